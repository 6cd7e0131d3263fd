package cloud

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	errw "github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"
)

const eventBuffer = 64

// envelope wraps every request, reply and push message on the bus.
type envelope struct {
	CorrelationID string          `json:"correlation_id"`
	Error         *Error          `json:"error,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// NATSClient talks to the platform over NATS request/reply, with push events on a plain subject.
type NATSClient struct {
	logger         logging.Logger
	nc             *nats.Conn
	prefix         string
	requestTimeout time.Duration
	workers        sync.WaitGroup
}

// DialNATS connects to the bus. Subjects are rooted at prefix.
func DialNATS(url, prefix string, requestTimeout time.Duration, logger logging.Logger) (*NATSClient, error) {
	nc, err := nats.Connect(url,
		nats.Name("ble-pair"),
		nats.ReconnectWait(time.Second*2),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warnw("disconnected from cloud bus", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to cloud bus")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			var subject string
			if sub != nil {
				subject = sub.Subject
			}
			logger.Errorw("cloud bus error", "subject", subject, "error", err)
		}),
	)
	if err != nil {
		return nil, errw.Wrapf(err, "connecting to %s", url)
	}
	return NewNATSClient(nc, prefix, requestTimeout, logger), nil
}

// NewNATSClient wraps an existing connection.
func NewNATSClient(nc *nats.Conn, prefix string, requestTimeout time.Duration, logger logging.Logger) *NATSClient {
	if requestTimeout <= 0 {
		requestTimeout = time.Second * 10
	}
	return &NATSClient{
		logger:         logger,
		nc:             nc,
		prefix:         prefix,
		requestTimeout: requestTimeout,
	}
}

func (c *NATSClient) subject(s string) string {
	return c.prefix + "." + s
}

func (c *NATSClient) RegisterDevice(ctx context.Context, req RegisterDeviceRequest) (RegisterDeviceResponse, error) {
	var resp RegisterDeviceResponse
	err := c.request(ctx, c.subject("rpc.ipcd.register"), req, &resp)
	return resp, err
}

func (c *NATSClient) RegisterHub(ctx context.Context, hubID string) (HubRegistration, error) {
	var resp HubRegistration
	err := c.request(ctx, c.subject("rpc.hub.register"), map[string]string{"hub_id": hubID}, &resp)
	if err == nil && resp.HubID == "" {
		resp.HubID = hubID
	}
	return resp, err
}

func (c *NATSClient) request(ctx context.Context, subject string, body, out any) error {
	data, err := encodeRequest(uuid.NewString(), body)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	c.logger.Debugw("cloud request", "subject", subject)
	msg, err := c.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return errw.Wrapf(err, "requesting %s", subject)
	}
	return decodeReply(msg.Data, out)
}

func encodeRequest(correlationID string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errw.Wrap(err, "encoding request")
	}
	return json.Marshal(envelope{CorrelationID: correlationID, Payload: payload})
}

// decodeReply returns the platform error in data if there is one, otherwise decodes the payload into out.
func decodeReply(data []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return errw.Wrap(err, "decoding reply")
	}
	if env.Error != nil && env.Error.Code != "" {
		return env.Error
	}
	if out == nil || len(env.Payload) == 0 || string(env.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return errw.Wrap(err, "decoding reply payload")
	}
	return nil
}

func decodeEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, errw.Wrap(err, "decoding event")
	}
	var ev Event
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		return Event{}, errw.Wrap(err, "decoding event payload")
	}
	return ev, nil
}

// Events subscribes to push messages. The subscription ends and the channel closes when ctx is done.
func (c *NATSClient) Events(ctx context.Context) (<-chan Event, error) {
	msgs := make(chan *nats.Msg, eventBuffer)
	sub, err := c.nc.ChanSubscribe(c.subject("events"), msgs)
	if err != nil {
		return nil, errw.Wrap(err, "subscribing to events")
	}

	out := make(chan Event, eventBuffer)
	c.workers.Add(1)
	goutils.ManagedGo(func() {
		defer close(out)
		defer func() {
			if err := sub.Unsubscribe(); err != nil {
				c.logger.Debugw("error unsubscribing", "error", err)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-msgs:
				ev, err := decodeEvent(msg.Data)
				if err != nil {
					c.logger.Warnw("dropping malformed event", "error", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}, c.workers.Done)
	return out, nil
}

// Close drains the connection after all event streams have ended.
func (c *NATSClient) Close() error {
	c.workers.Wait()
	return c.nc.Drain()
}
