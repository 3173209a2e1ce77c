package command

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/obs-commander/telemetry"
)

// Message is an inbound chat line with the metadata dispatch needs.
type Message struct {
	Text   string
	Self   bool
	Sender Sender
}

// Replier sends a plain-text line to the chat channel.
type Replier interface {
	Say(text string)
}

// Dispatcher turns chat lines into command invocations.
type Dispatcher struct {
	prefix   string
	registry *Registry
	replier  Replier
}

// NewDispatcher returns a dispatcher recognizing lines that start with prefix.
func NewDispatcher(prefix string, registry *Registry, replier Replier) *Dispatcher {
	if prefix == "" {
		prefix = "!"
	}
	return &Dispatcher{prefix: prefix, registry: registry, replier: replier}
}

// Prefix returns the command marker.
func (d *Dispatcher) Prefix() string { return d.prefix }

// OnMessage parses, resolves, authorizes and runs a single chat line. It
// never returns an error and never panics: unrecognized input is ignored and
// failing actions are logged.
func (d *Dispatcher) OnMessage(ctx context.Context, msg Message) {
	if msg.Self || !strings.HasPrefix(msg.Text, d.prefix) {
		return
	}
	body := strings.TrimSpace(strings.TrimPrefix(msg.Text, d.prefix))
	if body == "" {
		return
	}
	tokens := Parse(body)
	if len(tokens) == 0 {
		return
	}
	cmd, ok := d.registry.Lookup(tokens[0])
	if !ok {
		telemetry.ObserveDispatch("", telemetry.OutcomeUnknown)
		return
	}

	corr := uuid.NewString()
	ctx = telemetry.WithCorrelation(ctx, corr)
	ctx, span := telemetry.StartSpan(ctx, "command", "dispatch "+cmd.Name,
		attribute.String("command.name", cmd.Name),
		attribute.String("command.token", tokens[0]),
		attribute.String("chat.user", msg.Sender.Name),
	)
	defer span.End()
	log := telemetry.LoggerWithCorr(ctx)

	inv := &Invocation{
		Token:         tokens[0],
		Args:          tokens[1:],
		Command:       cmd,
		Sender:        msg.Sender,
		CorrelationID: corr,
		ReplyFunc:     d.say,
	}
	if !Authorize(inv) {
		log.Info("command denied", slog.String("user", inv.Sender.Name), slog.String("command", cmd.Name))
		telemetry.ObserveDispatch(cmd.Name, telemetry.OutcomeDenied)
		span.SetAttributes(attribute.Bool("command.denied", true))
		return
	}

	log.Info("running command", slog.String("user", inv.Sender.Name), slog.String("command", cmd.Name), slog.Any("args", inv.Args))
	telemetry.ObserveDispatch(cmd.Name, telemetry.OutcomeExecuted)
	d.run(ctx, inv)
	telemetry.SetSpanSuccess(span)
}

func (d *Dispatcher) run(ctx context.Context, inv *Invocation) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.LoggerWithCorr(ctx).Error("command action panicked",
				slog.String("command", inv.Command.Name), slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
		}
	}()
	if inv.Command.Action != nil {
		inv.Command.Action(ctx, inv)
	}
}

func (d *Dispatcher) say(text string) {
	if d.replier != nil {
		d.replier.Say(text)
	}
}
