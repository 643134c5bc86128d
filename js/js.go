// Package js runs hook callbacks written in JavaScript, on V8.
//
// A script registers callbacks by hook name and has a global "state" object
// that persists between runs:
//
//	addCallback("damageTaken", (ev) => {
//	  state.hits = (state.hits || 0) + 1;
//	  ev.damage = Math.floor(ev.damage / 2);
//	  return true;
//	});
//
// A callback returning true handled the hook.
package js

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"time"

	"github.com/zond/scriptai"
	"github.com/zond/scriptai/engine"
	"github.com/zond/scriptai/structs"
	"rogchap.com/v8go"

	goccy "github.com/goccy/go-json"
)

const (
	stateName = "state"
)

var (
	machines chan *machine
)

func init() {
	machines = make(chan *machine, runtime.NumCPU())
	for i := 0; i < runtime.NumCPU(); i++ {
		machines <- newMachine()
	}
}

type machine struct {
	iso *v8go.Isolate
}

func newMachine() *machine {
	return &machine{
		iso: v8go.NewIsolate(),
	}
}

type runContext struct {
	m         *machine
	vctx      *v8go.Context
	inv       *engine.Invocation
	callbacks map[string]*v8go.Function
}

func (rc *runContext) string(s string) *v8go.Value {
	if res, err := v8go.NewValue(rc.m.iso, s); err == nil {
		return res
	}
	return v8go.Undefined(rc.m.iso)
}

func (rc *runContext) throw(format string, args ...any) *v8go.Value {
	return rc.m.iso.ThrowException(rc.string(fmt.Sprintf(format, args...)))
}

func addCallback(rc *runContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
	args := info.Args()
	if len(args) == 2 && args[0].IsString() && args[1].IsFunction() {
		fun, err := args[1].AsFunction()
		if err != nil {
			return rc.throw("trying to cast %v to *v8go.Function: %v", args[1], err)
		}
		rc.callbacks[args[0].String()] = fun
		return nil
	}
	return rc.throw("addCallback takes [string, function] arguments")
}

func removeCallback(rc *runContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
	args := info.Args()
	if len(args) == 1 && args[0].IsString() {
		delete(rc.callbacks, args[0].String())
		return nil
	}
	return rc.throw("removeCallback takes [string] arguments")
}

func logFunc(rc *runContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
	anyArgs := []any{}
	for _, arg := range info.Args() {
		stringArg := arg.String()
		if arg.IsObject() {
			if jsonArg, err := v8go.JSONStringify(rc.vctx, arg); err == nil {
				stringArg = jsonArg
			}
		}
		anyArgs = append(anyArgs, stringArg)
	}
	if rc.inv.Host != nil && rc.inv.Host.Console != nil {
		log.New(rc.inv.Host.Console, "", 0).Println(anyArgs...)
	}
	return nil
}

func peekState(rc *runContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
	args := info.Args()
	if len(args) != 1 || !args[0].IsString() {
		return rc.throw("peekState takes [string] arguments")
	}
	if rc.inv.Host == nil || rc.inv.Host.PeekState == nil {
		return v8go.Null(rc.m.iso)
	}
	state, found := rc.inv.Host.PeekState(structs.ActorID(args[0].String()))
	if !found {
		return v8go.Null(rc.m.iso)
	}
	val, err := v8go.JSONParse(rc.vctx, state)
	if err != nil {
		return rc.throw("trying to parse state of %q: %v", args[0].String(), err)
	}
	return val
}

func (rc *runContext) addFunction(name string, f func(*runContext, *v8go.FunctionCallbackInfo) *v8go.Value) error {
	return scriptai.WithStack(
		rc.vctx.Global().Set(
			name,
			v8go.NewFunctionTemplate(
				rc.m.iso,
				func(info *v8go.FunctionCallbackInfo) *v8go.Value {
					return f(rc, info)
				},
			).GetFunction(rc.vctx),
		),
	)
}

func (rc *runContext) prepare() error {
	for _, cb := range []struct {
		name string
		fun  func(*runContext, *v8go.FunctionCallbackInfo) *v8go.Value
	}{
		{name: "addCallback", fun: addCallback},
		{name: "removeCallback", fun: removeCallback},
		{name: "log", fun: logFunc},
		{name: "peekState", fun: peekState},
	} {
		if err := rc.addFunction(cb.name, cb.fun); err != nil {
			return scriptai.WithStack(err)
		}
	}
	stateJSON := rc.inv.State
	if stateJSON == "" {
		stateJSON = "{}"
	}
	stateValue, err := v8go.JSONParse(rc.vctx, stateJSON)
	if err != nil {
		return scriptai.WithStack(err)
	}
	return scriptai.WithStack(rc.vctx.Global().Set(stateName, stateValue))
}

type result struct {
	value *v8go.Value
	err   error
}

// withTimeout runs f, terminating it if it outlives the remaining budget.
// It always waits for f to return, so the isolate is idle when it returns.
func (rc *runContext) withTimeout(f func() (*v8go.Value, error), timeout *time.Duration) (*v8go.Value, error) {
	results := make(chan result, 1)
	start := time.Now()
	go func() {
		val, err := f()
		results <- result{value: val, err: err}
	}()
	timer := time.NewTimer(*timeout)
	defer timer.Stop()
	select {
	case res := <-results:
		*timeout -= time.Since(start)
		return res.value, scriptai.WithStack(res.err)
	case <-timer.C:
		rc.m.iso.TerminateExecution()
		<-results
		return nil, scriptai.WithStack(engine.ErrTimeout)
	}
}

type Backend struct{}

func (Backend) Call(ctx context.Context, inv *engine.Invocation) (*engine.Result, error) {
	m := <-machines
	defer func() { machines <- m }()

	rc := &runContext{
		m:         m,
		vctx:      v8go.NewContext(m.iso),
		inv:       inv,
		callbacks: map[string]*v8go.Function{},
	}
	defer rc.vctx.Close()

	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = engine.DefaultTimeout
	}

	if err := rc.prepare(); err != nil {
		return nil, scriptai.WithStack(err)
	}

	if _, err := rc.withTimeout(func() (*v8go.Value, error) {
		return rc.vctx.RunScript(inv.Source, inv.Origin)
	}, &timeout); err != nil {
		return nil, scriptai.WithStack(err)
	}

	jsCB, found := rc.callbacks[inv.Hook]
	if !found {
		return rc.collect(false, nil)
	}

	argsJSON, err := goccy.Marshal(inv.Args)
	if err != nil {
		return nil, scriptai.WithStack(err)
	}
	argsValue, err := v8go.JSONParse(rc.vctx, string(argsJSON))
	if err != nil {
		return nil, scriptai.WithStack(err)
	}

	val, err := rc.withTimeout(func() (*v8go.Value, error) {
		return jsCB.Call(rc.vctx.Global(), argsValue)
	}, &timeout)
	if err != nil {
		return nil, scriptai.WithStack(err)
	}
	return rc.collect(val != nil && val.IsTrue(), argsValue)
}

func (rc *runContext) collect(handled bool, argsValue *v8go.Value) (*engine.Result, error) {
	res := &engine.Result{
		Handled: handled,
	}
	stateValue, err := rc.vctx.Global().Get(stateName)
	if err != nil {
		return nil, scriptai.WithStack(err)
	}
	if res.State, err = v8go.JSONStringify(rc.vctx, stateValue); err != nil {
		return nil, scriptai.WithStack(err)
	}
	if argsValue != nil {
		argsJSON, err := v8go.JSONStringify(rc.vctx, argsValue)
		if err != nil {
			return nil, scriptai.WithStack(err)
		}
		if err := goccy.Unmarshal([]byte(argsJSON), &res.Args); err != nil {
			return nil, scriptai.WithStack(err)
		}
	}
	return res, nil
}
