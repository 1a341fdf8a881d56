package emailsvc

import (
	"fmt"
	"log"
	"mime/multipart"
	"net/mail"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

type consoleService struct {
	defaultFromEmail mail.Address
	subjPrefix       string
	disableOutput    bool
	logger           core.Logger
}

var _ core.EmailService = (*consoleService)(nil)

// NewConsoleService prints emails to stdout instead of sending them. Used in debug mode.
func NewConsoleService(conf *core.Config, logger core.Logger) core.EmailService {
	return &consoleService{
		defaultFromEmail: conf.DefaultFromEmail(),
		subjPrefix:       "[" + conf.AppName + "] ",
		logger:           logger,
	}
}

func (svc consoleService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		go func(msg *core.EmailMessage) {
			_, _ = svc.sendMessage(msg)
		}(msg)
	}
}

func (svc consoleService) sendMessage(msg *core.EmailMessage) (string, error) {
	if err := msg.Render(); err != nil {
		err = errors.Wrap(err, "rendering email")
		svc.logger.Error(err.Error(), err)
		return "", err
	}
	if !msg.HasRecipients() || !(msg.HasContent() || msg.HasAttachments()) {
		return "", nil
	}

	body, err := svc.format(*msg)
	if err != nil {
		svc.logger.Error(err.Error(), err)
		return "", err
	}
	if !svc.disableOutput {
		log.Println(body)
	}
	return body, nil
}

func (svc consoleService) format(msg core.EmailMessage) (string, error) {
	body := new(strings.Builder)

	// Write mail header
	_, _ = fmt.Fprintf(body, "From: %s\r\n", svc.defaultFromEmail.String())
	_, _ = fmt.Fprint(body, "MIME-Version: 1.0\r\n")
	_, _ = fmt.Fprintf(body, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	_, _ = fmt.Fprintf(body, "Subject: %s\r\n", svc.subjPrefix+msg.Subject)
	_, _ = fmt.Fprintf(body, "To: %s\r\n", svc.joinAddresses(msg.To))
	_, _ = fmt.Fprintf(body, "CC: %s\r\n", svc.joinAddresses(msg.Cc))
	_, _ = fmt.Fprintf(body, "BCC: %s\r\n", svc.joinAddresses(msg.Bcc))

	var mixedW *multipart.Writer
	altW := multipart.NewWriter(body)

	if msg.HasAttachments() {
		mixedW = multipart.NewWriter(body)
		_, _ = fmt.Fprintf(body, "Content-Type: multipart/mixed; boundary=%s\r\n", mixedW.Boundary())
	} else {
		_, _ = fmt.Fprintf(body, "Content-Type: multipart/alternative; boundary=%s\r\n", altW.Boundary())
	}
	_, _ = fmt.Fprint(body, "\r\n")

	if mixedW != nil {
		hdr := textproto.MIMEHeader{"Content-Type": {"multipart/alternative; boundary=" + altW.Boundary()}}
		if _, err := mixedW.CreatePart(hdr); err != nil {
			return "", errors.Wrap(err, "creating multipart/alternative part")
		}
	}

	w, err := altW.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=utf-8"}})
	if err != nil {
		return "", errors.Wrap(err, "creating text/plain part")
	}
	_, _ = fmt.Fprintf(w, "%s\r\n", msg.TextContent)

	if msg.HTMLContent != "" {
		w, err = altW.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/html; charset=utf-8"}})
		if err != nil {
			return "", errors.Wrap(err, "creating text/html part")
		}
		_, _ = fmt.Fprintf(w, "%s\r\n", msg.HTMLContent)
	}
	if err := altW.Close(); err != nil {
		return "", errors.Wrap(err, "closing multipart/alternative part")
	}

	if mixedW != nil {
		for _, at := range msg.Attachments {
			w, err = mixedW.CreatePart(textproto.MIMEHeader{
				"Content-Type":              {at.ContentType},
				"Content-Transfer-Encoding": {"base64"},
				"Content-Disposition":       {"attachment; filename=" + at.Filename}})
			if err != nil {
				return "", errors.Wrap(err, "creating "+at.ContentType+" part")
			}
			_, _ = fmt.Fprintf(w, "%s\r\n", at.Content.String())
		}
		if err := mixedW.Close(); err != nil {
			return "", errors.Wrap(err, "closing multipart/mixed part")
		}
	}
	return body.String(), nil
}

func (svc consoleService) joinAddresses(addrs []mail.Address) string {
	toJoin := make([]string, 0, len(addrs))
	for _, a := range addrs {
		toJoin = append(toJoin, a.String())
	}
	return strings.Join(toJoin, ", ")
}

// ConsoleServiceMock renders messages synchronously and keeps them instead of printing them.
type ConsoleServiceMock struct {
	consoleService

	mu   sync.Mutex
	sent []core.EmailMessage
}

var _ core.EmailService = (*ConsoleServiceMock)(nil)

func NewConsoleServiceMock(conf *core.Config, logger core.Logger) *ConsoleServiceMock {
	return &ConsoleServiceMock{
		consoleService: consoleService{
			defaultFromEmail: conf.DefaultFromEmail(),
			subjPrefix:       "[" + conf.AppName + "] ",
			disableOutput:    true,
			logger:           logger,
		},
	}
}

func (svc *ConsoleServiceMock) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		// run synchronously
		if body, err := svc.sendMessage(msg); err == nil && body != "" {
			svc.mu.Lock()
			svc.sent = append(svc.sent, *msg)
			svc.mu.Unlock()
		}
	}
}

// SentMessages returns the messages sent so far.
func (svc *ConsoleServiceMock) SentMessages() []core.EmailMessage {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return append([]core.EmailMessage(nil), svc.sent...)
}

func (svc *ConsoleServiceMock) ClearMessages() {
	svc.mu.Lock()
	svc.sent = nil
	svc.mu.Unlock()
}
