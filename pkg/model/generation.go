package model

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/m-mizutani/goerr/v2"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// TopicRequiredMessage is shown when the topic is empty
const TopicRequiredMessage = "Please enter a topic"

// GenerationRequest is the body of POST /api/generate
type GenerationRequest struct {
	Topic          string         `json:"topic" validate:"required"`
	ExpertiseLevel ExpertiseLevel `json:"expertiseLevel,omitempty"`
}

// UnmarshalJSON also accepts the legacy "userLevel" key
func (r *GenerationRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		Topic          string         `json:"topic"`
		ExpertiseLevel ExpertiseLevel `json:"expertiseLevel"`
		UserLevel      ExpertiseLevel `json:"userLevel"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.Topic = raw.Topic
	r.ExpertiseLevel = raw.ExpertiseLevel
	if r.ExpertiseLevel == "" {
		r.ExpertiseLevel = raw.UserLevel
	}
	return nil
}

// Level returns the requested level, or DefaultLevel when absent or unknown
func (r *GenerationRequest) Level() ExpertiseLevel {
	return r.ExpertiseLevel.OrDefault()
}

// Validate checks the request before any network call is made. Topic must be
// non-empty after trimming whitespace. The level is not checked: unknown
// levels fall back to DefaultLevel.
func (r *GenerationRequest) Validate() error {
	trimmed := GenerationRequest{
		Topic:          strings.TrimSpace(r.Topic),
		ExpertiseLevel: r.ExpertiseLevel,
	}

	if err := getValidator().Struct(&trimmed); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			if verrs[0].Field() == "Topic" {
				return goerr.Wrap(ErrValidation, TopicRequiredMessage)
			}
		}
		return goerr.Wrap(ErrValidation, err.Error())
	}

	return nil
}
