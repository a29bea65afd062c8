// Package validate normalizes and defaults tool arguments before a handler
// runs. The dispatch layer calls Arguments exactly once per tools/call;
// handlers receive arguments with defaults applied and can trust the
// field types checked here.
package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Error marks a malformed or missing argument. Validation failures are
// always recoverable, carry the message verbatim to the caller, and are
// never retried.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func IsValidation(err error) bool {
	var ve *Error
	return errors.As(err, &ve)
}

func errMissing(field string) error {
	return &Error{Field: field, Message: "required and must be a non-empty string"}
}

// Arguments validates and normalizes args for the named tool, returning
// the re-encoded arguments. Unknown tools pass through untouched; the
// registry reports those.
func Arguments(tool string, raw json.RawMessage) (json.RawMessage, error) {
	args := map[string]interface{}{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, &Error{Message: "arguments must be a JSON object"}
		}
	}

	var err error
	switch tool {
	case "memory_store":
		err = memoryStore(args)
	case "memory_search":
		err = memorySearch(args)
	case "memory_list":
		err = memoryList(args)
	case "memory_update":
		err = memoryUpdate(args)
	case "memory_delete":
		err = memoryDelete(args)
	case "knowledge_add":
		err = knowledgeAdd(args)
	case "knowledge_search":
		err = knowledgeSearch(args)
	case "project_info":
		err = requireString(args, "path")
	}
	if err != nil {
		return nil, err
	}

	normalized, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return normalized, nil
}

func memoryStore(args map[string]interface{}) error {
	if err := requireString(args, "project_id"); err != nil {
		return err
	}
	if err := requireString(args, "content"); err != nil {
		return err
	}
	defaultString(args, "scope", "default")
	if err := optionalTags(args); err != nil {
		return err
	}
	return optionalExpiry(args, false)
}

func memorySearch(args map[string]interface{}) error {
	if err := requireString(args, "project_id"); err != nil {
		return err
	}
	if _, ok := args["query"]; !ok {
		args["query"] = ""
	}
	if _, ok := args["query"].(string); !ok {
		return &Error{Field: "query", Message: "must be a string"}
	}
	defaultString(args, "scope", "default")
	if tag, ok := args["tag"]; ok {
		if _, isStr := tag.(string); !isStr {
			return &Error{Field: "tag", Message: "must be a string"}
		}
	}
	clampInt(args, "limit", 1, 100, 5)
	if v, ok := args["use_fts"]; ok {
		if _, isBool := v.(bool); !isBool {
			return &Error{Field: "use_fts", Message: "must be a boolean"}
		}
	} else {
		args["use_fts"] = false
	}
	return nil
}

func memoryList(args map[string]interface{}) error {
	if err := requireString(args, "project_id"); err != nil {
		return err
	}
	if scope, ok := args["scope"]; ok {
		if _, isStr := scope.(string); !isStr {
			return &Error{Field: "scope", Message: "must be a string"}
		}
	}
	clampInt(args, "limit", 1, 500, 50)
	if v, ok := args["offset"]; ok {
		n, isNum := v.(float64)
		if !isNum || n < 0 || n != float64(int(n)) {
			return &Error{Field: "offset", Message: "must be a non-negative integer"}
		}
	} else {
		args["offset"] = float64(0)
	}
	return nil
}

func memoryUpdate(args map[string]interface{}) error {
	if err := requireString(args, "id"); err != nil {
		return err
	}
	if err := requireString(args, "project_id"); err != nil {
		return err
	}
	// Partial update: only fields that are present are validated.
	if v, ok := args["content"]; ok {
		if _, isStr := v.(string); !isStr {
			return &Error{Field: "content", Message: "must be a string"}
		}
	}
	if err := optionalTags(args); err != nil {
		return err
	}
	return optionalExpiry(args, true)
}

func memoryDelete(args map[string]interface{}) error {
	if err := requireString(args, "id"); err != nil {
		return err
	}
	return requireString(args, "project_id")
}

func knowledgeAdd(args map[string]interface{}) error {
	if err := requireString(args, "title"); err != nil {
		return err
	}
	if err := requireString(args, "content"); err != nil {
		return err
	}
	for _, field := range []string{"source", "project_id"} {
		if v, ok := args[field]; ok {
			if _, isStr := v.(string); !isStr {
				return &Error{Field: field, Message: "must be a string"}
			}
		}
	}
	return optionalVector(args)
}

func knowledgeSearch(args map[string]interface{}) error {
	if _, ok := args["query"]; !ok {
		args["query"] = ""
	}
	if _, ok := args["query"].(string); !ok {
		return &Error{Field: "query", Message: "must be a string"}
	}
	if v, ok := args["project_id"]; ok {
		if _, isStr := v.(string); !isStr {
			return &Error{Field: "project_id", Message: "must be a string"}
		}
	}
	clampInt(args, "limit", 1, 100, 5)
	return optionalVector(args)
}

func requireString(args map[string]interface{}, field string) error {
	v, ok := args[field]
	if !ok {
		return errMissing(field)
	}
	s, isStr := v.(string)
	if !isStr || s == "" {
		return errMissing(field)
	}
	return nil
}

func defaultString(args map[string]interface{}, field, fallback string) {
	if v, ok := args[field]; ok {
		if s, isStr := v.(string); isStr && s != "" {
			return
		}
	}
	args[field] = fallback
}

func clampInt(args map[string]interface{}, field string, min, max, fallback int) {
	v, ok := args[field]
	if !ok {
		args[field] = float64(fallback)
		return
	}
	n, isNum := v.(float64)
	if !isNum || n != float64(int(n)) || int(n) < min || int(n) > max {
		args[field] = float64(fallback)
	}
}

func optionalTags(args map[string]interface{}) error {
	v, ok := args["tags"]
	if !ok || v == nil {
		return nil
	}
	list, isList := v.([]interface{})
	if !isList {
		return &Error{Field: "tags", Message: "must be an array of strings"}
	}
	for _, item := range list {
		if _, isStr := item.(string); !isStr {
			return &Error{Field: "tags", Message: "must be an array of strings"}
		}
	}
	return nil
}

// optionalExpiry validates expires_at as RFC 3339. When allowEmpty is set
// an empty string is accepted and means "clear the expiry".
func optionalExpiry(args map[string]interface{}, allowEmpty bool) error {
	v, ok := args["expires_at"]
	if !ok || v == nil {
		return nil
	}
	s, isStr := v.(string)
	if !isStr {
		return &Error{Field: "expires_at", Message: "must be an RFC 3339 timestamp"}
	}
	if s == "" {
		if allowEmpty {
			return nil
		}
		return &Error{Field: "expires_at", Message: "must be an RFC 3339 timestamp"}
	}
	if _, err := time.Parse(time.RFC3339, s); err != nil {
		return &Error{Field: "expires_at", Message: "must be an RFC 3339 timestamp"}
	}
	return nil
}

func optionalVector(args map[string]interface{}) error {
	v, ok := args["vector"]
	if !ok || v == nil {
		return nil
	}
	list, isList := v.([]interface{})
	if !isList || len(list) == 0 {
		return &Error{Field: "vector", Message: "must be a non-empty array of numbers"}
	}
	for _, item := range list {
		if _, isNum := item.(float64); !isNum {
			return &Error{Field: "vector", Message: "must be a non-empty array of numbers"}
		}
	}
	return nil
}
