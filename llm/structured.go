package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"

	"github.com/martinemde/planwright/failure"
)

// ObjectRequest describes a structured-output call.
type ObjectRequest struct {
	Name        string // schema name, also used as the failing op
	Model       string
	System      string
	Messages    []Message
	Temperature *float64
	MaxTokens   *int
	Metadata    map[string]string
}

// ObjectResult carries the decoded object with the responses that produced
// it.
type ObjectResult[T any] struct {
	Value     T
	Responses []*Response
	Usage     Usage
}

var objectValidator = validator.New(validator.WithRequiredStructEnabled())

// SchemaFor reflects a JSON Schema object for T with all definitions
// inlined.
func SchemaFor[T any]() map[string]interface{} {
	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	s := r.Reflect(new(T))
	data, err := json.Marshal(s)
	if err != nil {
		return map[string]interface{}{"type": "object"}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]interface{}{"type": "object"}
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}

// GenerateObject asks for a JSON object matching T's schema, decodes it, and
// checks it with struct validation tags and the optional check func. A
// response that fails any of these gets exactly one clarifying re-request.
// A second failure is a failure.MalformedResponse.
func GenerateObject[T any](ctx context.Context, c Completer, req ObjectRequest, check func(T) error) (*ObjectResult[T], error) {
	schema := SchemaFor[T]()
	schemaJSON, _ := json.MarshalIndent(schema, "", "  ")
	instruction := fmt.Sprintf("Respond with a single JSON object matching this schema:\n```json\n%s\n```\nRespond ONLY with the JSON object, no other text.", schemaJSON)

	system := instruction
	if req.System != "" {
		system = req.System + "\n\n" + instruction
	}
	messages := append([]Message{SystemMessage(system)}, req.Messages...)

	result := &ObjectResult[T]{}
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, failure.Cancelled(req.Name, err)
		}
		resp, err := c.Complete(ctx, Request{
			Model:       req.Model,
			Messages:    messages,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
			Metadata:    req.Metadata,
			ResponseFormat: &ResponseFormat{
				Type:       "json_schema",
				Name:       req.Name,
				JSONSchema: schema,
			},
		})
		if err != nil {
			return nil, err
		}
		result.Responses = append(result.Responses, resp)
		result.Usage = result.Usage.Add(resp.Usage)

		value, err := decodeObject[T](resp.Text(), requiredKeys(schema))
		if err == nil {
			err = checkObject(value, check)
		}
		if err == nil {
			result.Value = value
			return result, nil
		}
		lastErr = err
		messages = append(messages,
			AssistantMessage(resp.Text()),
			UserMessage(fmt.Sprintf("Your previous reply could not be used: %v\nReply again with ONLY a JSON object that matches the schema.", err)),
		)
	}
	return nil, failure.MalformedResponse(req.Name, "response did not match the requested schema", lastErr)
}

// decodeObject parses text as T. Unknown keys and missing required keys are
// errors, so a reply shaped for another schema is never read as zero values.
func decodeObject[T any](text string, required []string) (T, error) {
	var value T
	body := stripCodeFence(strings.TrimSpace(text))
	if body == "" {
		return value, fmt.Errorf("empty response")
	}
	value, err := decodeStrict[T](body, required)
	if err == nil || !notJSON(err) {
		return value, err
	}
	// Tolerate prose around a single object.
	start, end := strings.Index(body, "{"), strings.LastIndex(body, "}")
	if start >= 0 && end > start {
		retry, err2 := decodeStrict[T](body[start:end+1], required)
		if err2 == nil || !notJSON(err2) {
			return retry, err2
		}
	}
	return value, fmt.Errorf("invalid JSON: %w", err)
}

var errTrailingData = errors.New("unexpected data after the JSON object")

// notJSON reports whether err means the text was not a single JSON value, as
// opposed to JSON of the wrong shape.
func notJSON(err error) bool {
	var syntaxErr *json.SyntaxError
	return errors.As(err, &syntaxErr) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, errTrailingData)
}

func decodeStrict[T any](body string, required []string) (T, error) {
	var value T
	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&value); err != nil {
		return value, err
	}
	if dec.More() {
		return value, errTrailingData
	}
	if len(required) == 0 {
		return value, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return value, err
	}
	var missing []string
	for _, key := range required {
		if _, ok := fields[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return value, fmt.Errorf("missing required field(s): %s", strings.Join(missing, ", "))
	}
	return value, nil
}

// requiredKeys lists the top-level required properties of schema.
func requiredKeys(schema map[string]interface{}) []string {
	raw, _ := schema["required"].([]interface{})
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		if s, ok := k.(string); ok {
			keys = append(keys, s)
		}
	}
	return keys
}

func checkObject[T any](value T, check func(T) error) error {
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() == reflect.Struct {
		if err := objectValidator.Struct(value); err != nil {
			return err
		}
	}
	if check != nil {
		return check(value)
	}
	return nil
}

// stripCodeFence removes a surrounding markdown code fence, if any.
func stripCodeFence(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	if nl := strings.Index(t, "\n"); nl >= 0 {
		t = t[nl+1:]
	} else {
		return t
	}
	if end := strings.LastIndex(t, "```"); end >= 0 {
		t = t[:end]
	}
	return strings.TrimSpace(t)
}
