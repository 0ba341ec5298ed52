package config

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	validate   *validator.Validate
	translator ut.Translator
)

func init() {
	validate = validator.New()

	translator, _ = ut.New(en.New(), en.New()).GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Report the YAML key, since that is what an operator edits.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// ValidationError lists every configuration field that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k, v := range e.Fields {
		keys = append(keys, fmt.Sprintf("%s: %s", k, v))
	}
	slices.Sort(keys)
	return "invalid configuration: " + strings.Join(keys, "; ")
}

// Validate checks cfg against its declared constraints and the rules that
// span fields.
func (c *Config) Validate() error {
	fields := make(map[string]string)
	if err := validate.Struct(c); err != nil {
		var verrors validator.ValidationErrors
		if !errors.As(err, &verrors) {
			return err
		}
		for _, verr := range verrors {
			fields[strings.TrimPrefix(verr.Namespace(), "Config.")] = verr.Translate(translator)
		}
	}

	seen := make(map[string]struct{}, len(c.Auth.Tokens))
	for i, tok := range c.Auth.Tokens {
		if _, dup := seen[tok.Token]; dup {
			fields[fmt.Sprintf("auth.tokens[%d].token", i)] = "token is listed more than once"
		}
		seen[tok.Token] = struct{}{}
	}
	if c.ListenBrainz.Enabled && strings.TrimSpace(c.ListenBrainz.Username) == "" {
		fields["listenbrainz.username"] = "username is required when listenbrainz is enabled"
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
