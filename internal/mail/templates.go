package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"strings"
)

const (
	resetSubject = "Reset Password"
)

var resetTemplate = template.Must(template.New("reset").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <h2>Reset your password</h2>
    <p>Click to reset your password: <a href="{{.Link}}">{{.Link}}</a></p>
    <p>This link expires in {{.ExpiresIn}}. If you didn't request a password reset, you can ignore this email.</p>
</body>
</html>
`))

var contactTemplate = template.Must(template.New("contact").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <h2>New contact message</h2>
    <p><strong>Name:</strong> {{.Name}}</p>
    <p><strong>Email:</strong> {{.Email}}</p>
    <p style="white-space: pre-wrap;">{{.Message}}</p>
</body>
</html>
`))

// ResetLink builds the frontend URL that carries a reset token.
func ResetLink(frontendURL, token string) string {
	return strings.TrimRight(frontendURL, "/") + "/redirect-reset?token=" + url.QueryEscape(token)
}

// PasswordReset renders the reset email for to.
func PasswordReset(to, link, expiresIn string) (Message, error) {
	var buf bytes.Buffer
	data := struct{ Link, ExpiresIn string }{Link: link, ExpiresIn: expiresIn}
	if err := resetTemplate.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("execute reset template: %w", err)
	}
	return Message{To: to, Subject: resetSubject, HTML: buf.String()}, nil
}

// ContactNotification renders the inbox notification for a contact form submission.
func ContactNotification(inbox, name, email, message string) (Message, error) {
	var buf bytes.Buffer
	data := struct{ Name, Email, Message string }{Name: name, Email: email, Message: message}
	if err := contactTemplate.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("execute contact template: %w", err)
	}
	return Message{
		To:      inbox,
		Subject: "New contact message from " + name,
		HTML:    buf.String(),
	}, nil
}
