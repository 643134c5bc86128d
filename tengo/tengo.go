// Package tengo runs hook callbacks written in Tengo.
//
// Scripts put their callbacks in the predeclared hooks map, and keep what they
// need between runs in the state map:
//
//	hooks.damageTaken = func(ev) {
//		state.hits = is_undefined(state.hits) ? 1 : state.hits + 1
//		ev.damage = ev.damage / 2
//		return true
//	}
package tengo

import (
	"context"
	"strings"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"
	"github.com/pkg/errors"
	"github.com/zond/scriptai"
	"github.com/zond/scriptai/engine"
	"github.com/zond/scriptai/structs"

	goccy "github.com/goccy/go-json"
)

// Kept on the first line so script line numbers stay as written.
const prelude = `hooks := {}; `

const dispatch = `
if is_map(hooks) {
	__fn := hooks[__hook]
	if is_callable(__fn) {
		__handled = __fn(__ev) == true
	}
}
`

var modules = []string{"math", "text", "times", "rand", "json", "base64", "hex", "enum"}

func toString(o tengo.Object) string {
	if s, ok := tengo.ToString(o); ok {
		return s
	}
	return o.String()
}

func logFunc(inv *engine.Invocation) *tengo.UserFunction {
	return &tengo.UserFunction{Name: "log", Value: func(args ...tengo.Object) (tengo.Object, error) {
		parts := make([]string, 0, len(args))
		for _, arg := range args {
			parts = append(parts, toString(arg))
		}
		inv.Host.Logf("%s", strings.Join(parts, " "))
		return tengo.UndefinedValue, nil
	}}
}

func peekState(inv *engine.Invocation) *tengo.UserFunction {
	return &tengo.UserFunction{Name: "peekState", Value: func(args ...tengo.Object) (tengo.Object, error) {
		if len(args) != 1 {
			return nil, tengo.ErrWrongNumArguments
		}
		id, ok := args[0].(*tengo.String)
		if !ok {
			return nil, tengo.ErrInvalidArgumentType{Name: "id", Expected: "string", Found: args[0].TypeName()}
		}
		if inv.Host == nil || inv.Host.PeekState == nil {
			return tengo.UndefinedValue, nil
		}
		state, found := inv.Host.PeekState(structs.ActorID(id.Value))
		if !found {
			return tengo.UndefinedValue, nil
		}
		var val any
		if err := goccy.Unmarshal([]byte(state), &val); err != nil {
			return nil, errors.Wrapf(err, "trying to parse state of %q", id.Value)
		}
		return tengo.FromInterface(val)
	}}
}

type Backend struct{}

func (Backend) Call(ctx context.Context, inv *engine.Invocation) (*engine.Result, error) {
	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = engine.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	state := map[string]any{}
	if inv.State != "" {
		if err := goccy.Unmarshal([]byte(inv.State), &state); err != nil {
			return nil, errors.Wrapf(err, "parsing state %q", inv.State)
		}
		if state == nil {
			state = map[string]any{}
		}
	}
	args := map[string]any{}
	for k, v := range inv.Args {
		args[k] = v
	}

	script := tengo.NewScript([]byte(prelude + inv.Source + "\n" + dispatch))
	for name, val := range map[string]any{
		"state":     state,
		"log":       logFunc(inv),
		"peekState": peekState(inv),
		"__hook":    inv.Hook,
		"__ev":      args,
		"__handled": false,
	} {
		if err := script.Add(name, val); err != nil {
			return nil, scriptai.WithStack(err)
		}
	}
	script.SetImports(stdlib.GetModuleMap(modules...))

	compiled, err := script.Compile()
	if err != nil {
		return nil, errors.Wrapf(err, "compiling %s", inv.Origin)
	}
	if err := compiled.RunContext(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errors.WithStack(engine.ErrTimeout)
		}
		return nil, errors.Wrapf(err, "running %s", inv.Origin)
	}

	res := &engine.Result{
		Handled: compiled.Get("__handled").Bool(),
		Args:    compiled.Get("__ev").Map(),
	}
	stateJSON, err := goccy.Marshal(compiled.Get("state").Map())
	if err != nil {
		return nil, errors.Wrap(err, "serializing state")
	}
	res.State = string(stateJSON)
	return res, nil
}
