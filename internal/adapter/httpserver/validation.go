package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
)

// maxJSONBody caps JSON request bodies. Image-to-image payloads carry data
// URLs, so this is generous.
const maxJSONBody = 32 << 20

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() {
		vld = validator.New()
		vld.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return vld
}

// ValidationDetails maps a JSON field name to the rule it failed.
type ValidationDetails map[string]string

// validateStruct runs the validate tags of v. The returned details are nil
// when v is valid.
func validateStruct(v any) (ValidationDetails, error) {
	rv := reflect.Indirect(reflect.ValueOf(v))
	if rv.Kind() != reflect.Struct {
		return nil, nil
	}
	err := getValidator().Struct(v)
	if err == nil {
		return nil, nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	details := ValidationDetails{}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		details[field] = fe.Tag()
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return details, fmt.Errorf("%w: Invalid request: %s", domain.ErrInvalidArgument, strings.Join(fields, ", "))
}

// decodeJSON reads a size capped JSON body into v and validates it. On
// failure the error has already been written to w and false is returned.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, r, fmt.Errorf("%w: Request body too large", domain.ErrPayloadTooLarge), nil)
			return false
		}
		writeError(w, r, fmt.Errorf("%w: Invalid JSON in request body.", domain.ErrInvalidArgument), nil)
		return false
	}
	details, err := validateStruct(v)
	switch {
	case err != nil && details != nil:
		writeError(w, r, err, details)
		return false
	case err != nil:
		writeError(w, r, err, nil)
		return false
	}
	return true
}
