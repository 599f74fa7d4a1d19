package server

import (
	"reflect"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/margin/backend/internal/annotations"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const (
	tagNotBlank       = "strNotEmpty"
	tagAnnotationType = "annotationtype"
)

var (
	registerValidatorsOnce sync.Once
	registerValidatorsErr  error
)

// registerValidators installs the custom binding tags on gin's shared validator engine.
func registerValidators() error {
	registerValidatorsOnce.Do(func() {
		engine, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		engine.RegisterTagNameFunc(jsonFieldName)
		if err := engine.RegisterValidation(tagNotBlank, strNotEmpty); err != nil {
			registerValidatorsErr = err
			return
		}
		if err := engine.RegisterValidation(tagAnnotationType, annotationType); err != nil {
			registerValidatorsErr = err
		}
	})
	return registerValidatorsErr
}

// jsonFieldName reports fields by their wire names, falling back to the form tag for queries.
func jsonFieldName(field reflect.StructField) string {
	for _, tag := range []string{"json", "form"} {
		name := strings.SplitN(field.Tag.Get(tag), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return field.Name
}

// strNotEmpty rejects strings that are empty after trimming.
func strNotEmpty(fl validator.FieldLevel) bool {
	field := fl.Field()
	if field.Kind() != reflect.String {
		return false
	}
	return strings.TrimSpace(field.String()) != ""
}

// annotationType accepts the closed set of annotation kinds, case-insensitively. Emptiness is
// left to required rules.
func annotationType(fl validator.FieldLevel) bool {
	field := fl.Field()
	if field.Kind() != reflect.String {
		return false
	}
	if strings.TrimSpace(field.String()) == "" {
		return true
	}
	_, err := annotations.ParseAnnotationType(field.String())
	return err == nil
}
