package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zeh237/taskly/pkg/mail"
)

// SMTPSettings returns the mailer settings used for direct delivery and by the worker.
func (c EmailConfig) SMTPSettings() mail.SMTPSettings {
	smtp := c.SMTP
	return mail.SMTPSettings{
		Enabled:  smtp.Enabled,
		Host:     strings.TrimSpace(smtp.Host),
		Port:     smtp.Port,
		Username: strings.TrimSpace(smtp.Username),
		Password: smtp.Password,
		From:     strings.TrimSpace(smtp.From),
		UseTLS:   smtp.UseTLS,
		Timeout:  smtp.Timeout,
	}
}

// Queued reports whether notifications are handed to the worker instead of sent inline.
func (c EmailConfig) Queued() bool {
	return c.Delivery == DeliveryQueue
}

// normalizeDelivery canonicalises the delivery mode. Queued delivery needs redis.
func (c *EmailConfig) normalizeDelivery(redisEnabled bool) error {
	switch strings.ToLower(strings.TrimSpace(c.Delivery)) {
	case "", DeliveryDirect:
		c.Delivery = DeliveryDirect
	case DeliveryQueue:
		if !redisEnabled {
			return errors.New("config: email.delivery=queue requires cache.redis.enabled")
		}
		c.Delivery = DeliveryQueue
	default:
		return fmt.Errorf("config: unknown email.delivery %q", c.Delivery)
	}
	return nil
}
