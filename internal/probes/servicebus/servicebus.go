// Package servicebus verifies an Azure Service Bus queue or subscription.
package servicebus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"

	"github.com/jkaninda/echoservice/internal/connection"
	"github.com/jkaninda/echoservice/internal/credential"
	"github.com/jkaninda/echoservice/internal/verify"
)

// Kind is the registry name of the Service Bus probe.
const Kind = "servicebus"

// DefaultReceiveWait bounds the receive probe.
const DefaultReceiveWait = 3 * time.Second

// Options is the key/value view of an identity connection:
// "Value=ns.servicebus.windows.net;QueueName=orders;ManagedIdentityClientId=...".
type Options struct {
	Value           string
	QueueName       string
	TopicName       string
	Subscription    string
	credential.Hint `mapstructure:",squash"`
}

// Target is the resolved entity and the way to reach it.
type Target struct {
	Descriptor       *connection.Descriptor
	Namespace        string // Fully qualified namespace; empty with a SAS connection string.
	ConnectionString string
	Queue            string
	Topic            string
	Subscription     string
	Hint             credential.Hint
}

func (t Target) entity() string {
	if t.Queue != "" {
		return "queue=" + t.Queue
	}
	return fmt.Sprintf("topic=%s; subscription=%s", t.Topic, t.Subscription)
}

// Capability peeks one message. With "receive=true" it receives one in
// peek-lock mode, waiting at most the receive wait, and abandons it so the
// queue is left unchanged.
type Capability struct {
	receiveWait time.Duration
}

// New returns the Service Bus capability. A zero wait uses DefaultReceiveWait.
func New(receiveWait time.Duration) *Capability {
	if receiveWait <= 0 {
		receiveWait = DefaultReceiveWait
	}
	return &Capability{receiveWait: receiveWait}
}

func (c *Capability) Kind() string { return Kind }

func (c *Capability) ResolveConnection(ctx context.Context, conns verify.Connections, p verify.Params) (Target, error) {
	d, err := conns.Resolve(ctx, p.Name())
	if err != nil {
		return Target{}, err
	}
	var opts Options
	if d.IsKeyValue() {
		if err := connection.Bind(d, &opts); err != nil {
			return Target{}, err
		}
	} else {
		opts.Value = d.Value
	}

	t := Target{Descriptor: d, Hint: opts.Hint, Queue: opts.QueueName, Topic: opts.TopicName, Subscription: opts.Subscription}
	if endpoint, ok := d.Lookup("Endpoint"); ok && endpoint != "" {
		if _, sas := d.Lookup("SharedAccessKeyName"); !sas {
			if _, sas = d.Lookup("SharedAccessSignature"); !sas {
				return Target{}, fmt.Errorf("connection '%s' has an Endpoint but no shared access key", d.Name)
			}
		}
		t.ConnectionString = d.Value
		if path, ok := d.Lookup("EntityPath"); ok && t.Queue == "" {
			t.Queue = path
		}
	} else {
		t.Namespace = namespaceHost(opts.Value)
		if t.Namespace == "" {
			return Target{}, connection.Missing("namespace for connection", d.Name)
		}
	}

	if v := p.Get("queue"); v != "" {
		t.Queue, t.Topic, t.Subscription = v, "", ""
	}
	if v := p.Get("topic"); v != "" {
		t.Queue, t.Topic, t.Subscription = "", v, p.Get("subscription")
	}
	switch {
	case t.Queue == "" && t.Topic == "":
		return Target{}, verify.MissingParam("queue")
	case t.Topic != "" && t.Subscription == "":
		return Target{}, verify.MissingParam("subscription")
	}
	return t, nil
}

func (c *Capability) CredentialHint(t Target) (*credential.Hint, bool) {
	if t.ConnectionString != "" {
		return nil, false
	}
	return &t.Hint, true
}

func (c *Capability) Probe(ctx context.Context, t Target, cred *credential.Resolved, p verify.Params) (verify.Result, error) {
	var (
		client *azservicebus.Client
		err    error
	)
	if cred != nil {
		client, err = azservicebus.NewClient(t.Namespace, cred.Credential, nil)
	} else {
		client, err = azservicebus.NewClientFromConnectionString(t.ConnectionString, nil)
	}
	if err != nil {
		return verify.Result{}, fmt.Errorf("creating service bus client: %w", err)
	}
	defer func() { _ = client.Close(context.WithoutCancel(ctx)) }()

	var receiver *azservicebus.Receiver
	if t.Queue != "" {
		receiver, err = client.NewReceiverForQueue(t.Queue, nil)
	} else {
		receiver, err = client.NewReceiverForSubscription(t.Topic, t.Subscription, nil)
	}
	if err != nil {
		return verify.Result{}, fmt.Errorf("creating receiver: %w", err)
	}
	defer func() { _ = receiver.Close(context.WithoutCancel(ctx)) }()

	msg := verify.ConnectedMessage("ServiceBus", t.Descriptor)
	if p.Bool("receive") {
		return c.receive(ctx, receiver, t, msg)
	}

	peeked, err := receiver.PeekMessages(ctx, 1, nil)
	if err != nil {
		return verify.Result{}, fmt.Errorf("peeking %s: %w", t.entity(), err)
	}
	detail := fmt.Sprintf("%s; peeked=%d", t.entity(), len(peeked))
	if len(peeked) > 0 {
		detail += "; messageId=" + peeked[0].MessageID
	}
	return verify.Succeeded(msg, detail), nil
}

func (c *Capability) receive(ctx context.Context, receiver *azservicebus.Receiver, t Target, msg string) (verify.Result, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.receiveWait)
	defer cancel()

	messages, err := receiver.ReceiveMessages(waitCtx, 1, nil)
	if err != nil && !(errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil) {
		return verify.Result{}, fmt.Errorf("receiving from %s: %w", t.entity(), err)
	}
	if len(messages) == 0 {
		return verify.Succeeded(msg, fmt.Sprintf("%s; received=false", t.entity())), nil
	}
	m := messages[0]
	if err := receiver.AbandonMessage(ctx, m, nil); err != nil {
		return verify.Result{}, fmt.Errorf("abandoning message %s: %w", m.MessageID, err)
	}
	return verify.Succeeded(msg, fmt.Sprintf("%s; received=true; messageId=%s", t.entity(), m.MessageID)), nil
}

// namespaceHost reduces "sb://ns.servicebus.windows.net/" to its host.
func namespaceHost(v string) string {
	v = strings.TrimSpace(v)
	if i := strings.Index(v, "://"); i >= 0 {
		v = v[i+3:]
	}
	return strings.TrimRight(v, "/")
}
