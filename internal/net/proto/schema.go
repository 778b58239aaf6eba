package proto

import (
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
)

// Schema reflects every registered action and signal payload into a single
// JSON schema document. Definitions are keyed "action:<name>" and
// "signal:<name>".
func Schema() (*jsonschema.Schema, error) {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}

	definitions := make(jsonschema.Definitions, len(actions)+len(signals))
	for _, name := range Actions() {
		params, _ := NewParams(name)
		schema := reflector.ReflectFromType(reflect.TypeOf(params).Elem())
		if schema == nil {
			return nil, fmt.Errorf("reflect params for %q", name)
		}
		signal, _ := ExpectedSignal(name)
		schema.Version = ""
		schema.Title = name
		schema.Description = fmt.Sprintf("Parameters of the %s action, confirmed by %s.", name, signal)
		definitions["action:"+name] = schema
	}
	for _, name := range Signals() {
		schema := reflector.ReflectFromType(reflect.TypeOf(signals[name]()).Elem())
		if schema == nil {
			return nil, fmt.Errorf("reflect data for %q", name)
		}
		schema.Version = ""
		schema.Title = name
		schema.Description = fmt.Sprintf("Data carried by the %s signal.", name)
		definitions["signal:"+name] = schema
	}

	return &jsonschema.Schema{
		Version:     jsonschema.Version,
		Title:       "VISTA simulation protocol",
		Description: "Action and signal payloads exchanged with the simulation server over the websocket channel.",
		Definitions: definitions,
	}, nil
}
