package callback

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/jwalitptl/push-api/internal/config"
	"github.com/jwalitptl/push-api/pkg/logger"
	"github.com/jwalitptl/push-api/pkg/security"
)

const tokenPlaceholder = "{token}"

// Token is the encrypted payload embedded in webhook callback URLs. It
// binds the callback to one (message, contact) pair.
type Token struct {
	MessageID uuid.UUID `json:"message_id"`
	ContactID uuid.UUID `json:"contact_id"`
}

// URLBuilder produces the click/received webhook callback URLs attached
// to a QueuedPush. Partial configuration (missing key or templates) does
// not error; the builder simply produces no URLs and dispatch carries on
// without callback data.
type URLBuilder struct {
	encryptor    security.Encryptor
	clickTmpl    string
	receivedTmpl string
	logger       *logger.Logger
}

func NewURLBuilder(cfg config.CallbackConfig, logger *logger.Logger) *URLBuilder {
	b := &URLBuilder{
		clickTmpl:    cfg.ClickURLTemplate,
		receivedTmpl: cfg.ReceivedURLTemplate,
		logger:       logger,
	}

	if cfg.EncryptionKey == "" {
		return b
	}
	enc, err := security.NewAESEncryptor([]byte(cfg.EncryptionKey))
	if err != nil {
		logger.Error(err, "callback encryption key rejected, callbacks disabled")
		return b
	}
	b.encryptor = enc
	return b
}

// Enabled reports whether the builder can produce callback URLs at all.
func (b *URLBuilder) Enabled() bool {
	return b.encryptor != nil && (b.clickTmpl != "" || b.receivedTmpl != "")
}

// Build returns the click and received callback URLs for one contact and
// message. Either may be empty when its template is not configured, the
// contact id is missing, or encryption fails.
func (b *URLBuilder) Build(messageID, contactID uuid.UUID) (click, received string) {
	if !b.Enabled() || contactID == uuid.Nil {
		return "", ""
	}

	payload, err := json.Marshal(Token{MessageID: messageID, ContactID: contactID})
	if err != nil {
		b.logger.Error(err, "failed to marshal callback token",
			"message_id", messageID.String(), "contact_id", contactID.String())
		return "", ""
	}

	token, err := security.EncryptToken(b.encryptor, payload)
	if err != nil {
		b.logger.Error(err, "failed to encrypt callback token",
			"message_id", messageID.String(), "contact_id", contactID.String())
		return "", ""
	}

	if b.clickTmpl != "" {
		click = strings.Replace(b.clickTmpl, tokenPlaceholder, token, 1)
	}
	if b.receivedTmpl != "" {
		received = strings.Replace(b.receivedTmpl, tokenPlaceholder, token, 1)
	}
	return click, received
}

// Decode reverses Build's token encryption. Used by the webhook endpoint
// that records click/received events.
func (b *URLBuilder) Decode(token string) (*Token, error) {
	if b.encryptor == nil {
		return nil, errors.New("callback tokens are not configured")
	}
	data, err := security.DecryptToken(b.encryptor, token)
	if err != nil {
		return nil, err
	}
	var t Token
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
