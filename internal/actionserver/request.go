package actionserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
)

const (
	nonceField     = "_nonce"
	maxMemoryBytes = 8 << 20
)

var errMissingAction = errors.New("action name is required")

// actionRequest is a decoded action call, whatever the body encoding.
type actionRequest struct {
	Name  string
	Args  map[string]any
	Nonce string
	Files []string
}

type jsonEnvelope struct {
	Action string         `json:"action"`
	Args   map[string]any `json:"args"`
	Nonce  string         `json:"_nonce"`
}

func decodeActionRequest(w http.ResponseWriter, r *http.Request) (actionRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var req actionRequest
	switch mediaType {
	case "application/json":
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMemoryBytes))
		dec.UseNumber()
		var env jsonEnvelope
		if err := dec.Decode(&env); err != nil {
			return actionRequest{}, fmt.Errorf("decode json body: %w", err)
		}
		req = actionRequest{Name: env.Action, Args: env.Args, Nonce: env.Nonce}
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxMemoryBytes); err != nil {
			return actionRequest{}, fmt.Errorf("decode multipart body: %w", err)
		}
		req = formRequest(r)
		for field, headers := range r.MultipartForm.File {
			for _, h := range headers {
				req.Files = append(req.Files, field+"/"+h.Filename)
			}
		}
	default:
		if err := r.ParseForm(); err != nil {
			return actionRequest{}, fmt.Errorf("decode form body: %w", err)
		}
		req = formRequest(r)
	}

	if req.Args == nil {
		req.Args = map[string]any{}
	}
	if req.Nonce == "" {
		req.Nonce, _ = req.Args[nonceField].(string)
	}
	delete(req.Args, nonceField)
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return actionRequest{}, errMissingAction
	}
	return req, nil
}

// formRequest reads fields either bare or under the args[...] prefix.
func formRequest(r *http.Request) actionRequest {
	req := actionRequest{Args: map[string]any{}}
	for key, values := range r.Form {
		if len(values) == 0 {
			continue
		}
		switch key {
		case "action":
			req.Name = values[0]
			continue
		case nonceField:
			req.Nonce = values[0]
			continue
		}
		if inner, ok := strings.CutPrefix(key, "args["); ok {
			key = strings.TrimSuffix(inner, "]")
		}
		if len(values) == 1 {
			req.Args[key] = values[0]
			continue
		}
		list := make([]any, len(values))
		for i, v := range values {
			list[i] = v
		}
		req.Args[key] = list
	}
	return req
}

func argInt(args map[string]any, key string) (int64, bool, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	var n int64
	var err error
	switch t := v.(type) {
	case json.Number:
		n, err = t.Int64()
		if err != nil {
			var f float64
			f, err = t.Float64()
			n = int64(f)
		}
	case string:
		n, err = strconv.ParseInt(strings.TrimSpace(t), 10, 64)
	case float64:
		n = int64(t)
	case int:
		n = int64(t)
	case int64:
		n = t
	default:
		err = fmt.Errorf("unsupported type %T", v)
	}
	if err != nil {
		return 0, true, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, true, nil
}

func argString(args map[string]any, key string) string {
	switch t := args[key].(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

// argObject accepts an object or, from form bodies, its JSON text.
func argObject(args map[string]any, key string) (map[string]any, error) {
	switch t := args[key].(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return t, nil
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, nil
		}
		var out map[string]any
		if err := decodeJSONText(t, &out); err != nil {
			return nil, fmt.Errorf("%s must be an object: %w", key, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be an object, got %T", key, t)
	}
}

func argStringMap(args map[string]any, key string) (map[string]string, error) {
	obj, err := argObject(args, key)
	if err != nil || obj == nil {
		return nil, err
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		switch t := v.(type) {
		case string:
			out[k] = t
		case json.Number:
			out[k] = t.String()
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out, nil
}

// argList accepts an array or, from form bodies, its JSON text.
func argList(args map[string]any, key string) ([]any, error) {
	switch t := args[key].(type) {
	case []any:
		return t, nil
	case string:
		var out []any
		if err := decodeJSONText(t, &out); err != nil {
			return nil, fmt.Errorf("%s must be an array: %w", key, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be an array, got %T", key, t)
	}
}

func decodeJSONText(s string, out any) error {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	return dec.Decode(out)
}

// lineFromArgs reads product_id, quantity, variation_id, variation and meta.
func lineFromArgs(args map[string]any, defaultQuantity int) (lineInput, error) {
	productID, ok, err := argInt(args, "product_id")
	if err != nil {
		return lineInput{}, err
	}
	if !ok {
		return lineInput{}, errors.New("product_id is required")
	}
	in := lineInput{productID: productID, quantity: defaultQuantity}
	if q, ok, err := argInt(args, "quantity"); err != nil {
		return lineInput{}, err
	} else if ok {
		in.quantity = int(q)
	}
	if in.variationID, _, err = argInt(args, "variation_id"); err != nil {
		return lineInput{}, err
	}
	if in.variation, err = argStringMap(args, "variation"); err != nil {
		return lineInput{}, err
	}
	if in.meta, err = argObject(args, "meta"); err != nil {
		return lineInput{}, err
	}
	return in, nil
}
