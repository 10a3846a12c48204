package mailer

import (
	"fmt"
	"html"
	"strings"

	"gopkg.in/gomail.v2"
)

// Notice is one billing email: a heading followed by plain paragraphs.
type Notice struct {
	Subject string
	Heading string
	Lines   []string
}

type IEmailService interface {
	SendNotice(toEmail string, notice Notice) error
}

type emailService struct {
	dialer      *gomail.Dialer
	senderEmail string
	senderName  string
}

func NewEmailService(host string, port int, username, password, senderName string) IEmailService {
	d := gomail.NewDialer(host, port, username, password)

	return &emailService{
		dialer:      d,
		senderEmail: username,
		senderName:  senderName,
	}
}

// Render builds the HTML body of n. Line text is escaped.
func Render(n Notice) string {
	var b strings.Builder
	b.WriteString(`<div style="font-family: Arial, sans-serif; padding: 20px; color: #333;">`)
	fmt.Fprintf(&b, "<h2>%s</h2>", html.EscapeString(n.Heading))
	for _, line := range n.Lines {
		fmt.Fprintf(&b, "<p>%s</p>", html.EscapeString(line))
	}
	b.WriteString("</div>")
	return b.String()
}

func (s *emailService) SendNotice(toEmail string, notice Notice) error {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.senderEmail, s.senderName)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", notice.Subject)
	m.SetBody("text/html", Render(notice))

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send %q to %s: %w", notice.Subject, toEmail, err)
	}
	return nil
}
