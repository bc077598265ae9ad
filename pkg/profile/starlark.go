package profile

import (
	"context"
	"fmt"
	"runtime"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// evalProfileScript executes a Starlark profile script and calls its
// profile() function, which must return a dict. Scripts see a `platform`
// struct (os, arch) so package sets can be computed per machine, and the
// standard struct() constructor. Print output is discarded.
func evalProfileScript(ctx context.Context, path string, src []byte) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	thread := &starlark.Thread{
		Name:  "profile",
		Print: func(_ *starlark.Thread, _ string) {},
	}

	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"platform": starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
			"os":   starlark.String(runtime.GOOS),
			"arch": starlark.String(runtime.GOARCH),
		}),
	}

	globals, err := starlark.ExecFile(thread, path, src, predeclared)
	if err != nil {
		return nil, err
	}

	fn, ok := globals["profile"]
	if !ok {
		return nil, fmt.Errorf("script defines no profile() function")
	}
	callable, ok := fn.(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("profile is a %s, want a function", fn.Type())
	}

	result, err := starlark.Call(thread, callable, nil, nil)
	if err != nil {
		return nil, err
	}

	value, err := fromStarlark(result)
	if err != nil {
		return nil, err
	}
	doc, ok := value.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("profile() returned a %s, want a dict", result.Type())
	}
	return doc, nil
}

// fromStarlark converts a Starlark value into plain Go data.
func fromStarlark(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer %s does not fit in 64 bits", val)
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		out := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlark(val.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = item
		}
		return out, nil
	case starlark.Tuple:
		out := make([]interface{}, len(val))
		for i, item := range val {
			converted, err := fromStarlark(item)
			if err != nil {
				return nil, err
			}
			out[i] = converted
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]interface{}, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key %s must be a string", item[0])
			}
			converted, err := fromStarlark(item[1])
			if err != nil {
				return nil, err
			}
			out[string(key)] = converted
		}
		return out, nil
	case *starlarkstruct.Struct:
		out := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			converted, err := fromStarlark(attr)
			if err != nil {
				return nil, err
			}
			out[name] = converted
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type %s", v.Type())
	}
}
