// Package assistant bridges the language model's function calling to the
// user's calendar.
package assistant

import (
	"context"
	"fmt"
	"time"

	"gwi.com/calendar-assistant/internal/apperr"
	"gwi.com/calendar-assistant/internal/llm"
	"gwi.com/calendar-assistant/internal/logger"
)

// FunctionChooser is the function-calling half of llm.Client.
type FunctionChooser interface {
	ChooseFunction(ctx context.Context, system, message string, functions []llm.FunctionDeclaration) (*llm.Decision, error)
}

// Connections reports whether a user has linked a calendar.
type Connections interface {
	IsConnected(ctx context.Context, userID int64) (bool, error)
}

// Registry maps function names to implementations and keeps catalog order.
type Registry struct {
	order []string
	funcs map[string]Function
}

func NewRegistry(fns ...Function) (*Registry, error) {
	r := &Registry{funcs: make(map[string]Function, len(fns))}
	for _, fn := range fns {
		if err := r.Register(fn); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(fn Function) error {
	name := fn.Declaration().Name
	if name == "" {
		return fmt.Errorf("function has no name")
	}
	if _, dup := r.funcs[name]; dup {
		return fmt.Errorf("function %q registered twice", name)
	}
	r.order = append(r.order, name)
	r.funcs[name] = fn
	return nil
}

func (r *Registry) Lookup(name string) (Function, bool) {
	fn, ok := r.funcs[name]
	return fn, ok
}

func (r *Registry) Catalog() []llm.FunctionDeclaration {
	out := make([]llm.FunctionDeclaration, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.funcs[name].Declaration())
	}
	return out
}

// Reply is what the dispatcher hands back to the chat flow. Result is nil
// when the model answered in text.
type Reply struct {
	Text   string
	Result *Result
}

type Dispatcher struct {
	model    FunctionChooser
	registry *Registry
	conns    Connections
	log      *logger.Logger
	location *time.Location
	now      func() time.Time
}

func NewDispatcher(model FunctionChooser, registry *Registry, conns Connections, log *logger.Logger, loc *time.Location) *Dispatcher {
	if loc == nil {
		loc = time.UTC
	}
	return &Dispatcher{model: model, registry: registry, conns: conns, log: log, location: loc, now: time.Now}
}

func (d *Dispatcher) Catalog() []llm.FunctionDeclaration {
	return d.registry.Catalog()
}

// Handle answers a calendar request. A user without a connected calendar
// gets the connect prompt without the model being called.
func (d *Dispatcher) Handle(ctx context.Context, userID int64, message string) (Reply, error) {
	if res, ok := d.checkConnection(ctx, userID, ""); !ok {
		return Reply{Text: res.Error, Result: &res}, nil
	}

	decision, err := d.model.ChooseFunction(ctx, d.systemPrompt(), message, d.Catalog())
	if err != nil {
		return Reply{}, err
	}
	if !decision.IsFunctionCall() {
		return Reply{Text: decision.Text}, nil
	}

	d.log.Info("model requested calendar function", "function", decision.FunctionName, "user_id", userID)
	if decision.ArgsErr != nil {
		d.log.Warn("calendar function arguments rejected", "function", decision.FunctionName, "user_id", userID, "error", decision.ArgsErr)
		res := failure(decision.FunctionName, decision.ArgsErr)
		return Reply{Text: Format(res, d.location), Result: &res}, nil
	}
	res := d.Execute(ctx, userID, decision.FunctionName, decision.Args)
	return Reply{Text: Format(res, d.location), Result: &res}, nil
}

// Execute runs one named function. Failures are returned inside the Result.
func (d *Dispatcher) Execute(ctx context.Context, userID int64, name string, args map[string]any) Result {
	if res, ok := d.checkConnection(ctx, userID, name); !ok {
		return res
	}
	fn, ok := d.registry.Lookup(name)
	if !ok {
		return failure(name, apperr.NotFound("assistant.execute", "Unknown function: "+name))
	}

	start := time.Now()
	res := fn.Execute(ctx, userID, Args(args))
	if res.Success {
		d.log.Debug("calendar function succeeded", "function", name, "user_id", userID, "took", time.Since(start))
	} else {
		d.log.Warn("calendar function failed", "function", name, "user_id", userID, "error", res.Error)
	}
	return res
}

func (d *Dispatcher) checkConnection(ctx context.Context, userID int64, name string) (Result, bool) {
	connected, err := d.conns.IsConnected(ctx, userID)
	if err != nil {
		d.log.Error("calendar connection check failed", "user_id", userID, "error", err)
		return failure(name, err), false
	}
	if !connected {
		return failure(name, apperr.CalendarNotConnected("assistant.execute")), false
	}
	return Result{}, true
}

func (d *Dispatcher) systemPrompt() string {
	today := d.now().In(d.location)
	return fmt.Sprintf("You are a calendar assistant. Today is %s (%s, time zone %s). "+
		"Use the available functions to read or change the user's Google Calendar. "+
		"Pass dates as 'today', 'tomorrow', 'this week', 'next week', 'this month' or ISO 8601, "+
		"and times as '<date> at <h> PM' or ISO 8601. "+
		"If the request is not about the calendar, answer briefly without calling a function.",
		today.Format("Monday, January 2, 2006"), today.Format("2006-01-02"), d.location.String())
}
