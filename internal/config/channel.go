package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Guizzs26/go-channel-sync/internal/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateChannel checks a channel configuration handed over by the settings collaborator
func ValidateChannel(c models.ChannelConfig) error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid channel %q: %s", c.ChannelID, strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid channel %q: %w", c.ChannelID, err)
	}

	creds := c.Credentials
	if creds.APIKey == "" && (creds.Username == "" || creds.Password == "") {
		return fmt.Errorf("invalid channel %q: credentials need an api key or username and password", c.ChannelID)
	}
	return nil
}
