package core

import (
	"bytes"
	"encoding/base64"
	"fmt"
	htmltmpl "html/template"
	"io"
	"io/fs"
	"net/http"
	"net/mail"
	"path"
	"strings"
	"sync"
	texttmpl "text/template"

	appfs "github.com/trezcool/shule/fs"
)

var (
	templates   tmplCache
	templatesMu sync.RWMutex
	strictTmpl  bool
)

type (
	tmplCacheEntry map[string]interface{}    // {ext: *Template}
	tmplCache      map[string]tmplCacheEntry // {name: {tmplCacheEntry}}

	Attachment struct {
		Content     *bytes.Buffer // base64 encoded
		ContentType string
		Filename    string
	}

	EmailMessage struct {
		To          []mail.Address
		Cc          []mail.Address
		Bcc         []mail.Address
		Subject     string
		BodyStr     string // simple text/plain, non-templated content
		Attachments []Attachment

		// templated contents
		TemplateName string // without ext
		TemplateData interface{}
		TextContent  string
		HTMLContent  string

		frontendBaseURL string
	}

	ContextData struct {
		FrontendBaseURL string
		Data            interface{}
	}

	// EmailService is any service that can send emails
	EmailService interface {
		// SendMessages sends messages concurrently
		SendMessages(messages ...*EmailMessage)
	}
)

// NewEmailMessage prepares a templated message.
func NewEmailMessage(conf *Config, tmplName, subject string, data interface{}, to ...mail.Address) *EmailMessage {
	return &EmailMessage{
		To:              to,
		Subject:         subject,
		TemplateName:    tmplName,
		TemplateData:    data,
		frontendBaseURL: conf.FrontendBaseURL,
	}
}

func (m *EmailMessage) getContextData() ContextData {
	return ContextData{
		FrontendBaseURL: m.frontendBaseURL,
		Data:            m.TemplateData,
	}
}

func (m *EmailMessage) getTemplate(ext string) (interface{}, bool) {
	templatesMu.RLock()
	defer templatesMu.RUnlock()

	cache, ok := templates[m.TemplateName]
	if !ok {
		return nil, ok
	}
	tmplEntry, ok := cache[ext]
	return tmplEntry, ok
}

func (m *EmailMessage) renderText() error {
	if m.BodyStr != "" {
		m.TextContent = m.BodyStr
		return nil
	} else if m.TemplateName == "" {
		return nil
	}

	tmplEntry, ok := m.getTemplate(".txt")
	if !ok {
		return nil
	}
	tmpl, ok := tmplEntry.(*texttmpl.Template)
	if !ok {
		return nil
	}

	var buff bytes.Buffer
	if err := tmpl.Execute(&buff, m.getContextData()); err != nil {
		return err
	}
	m.TextContent = buff.String()
	return nil
}

func (m *EmailMessage) renderHTML() error {
	if m.TemplateName == "" {
		return nil
	}

	tmplEntry, ok := m.getTemplate(".gohtml")
	if !ok {
		return nil
	}
	tmpl, ok := tmplEntry.(*htmltmpl.Template)
	if !ok {
		return nil
	}

	var buff bytes.Buffer
	if err := tmpl.Execute(&buff, m.getContextData()); err != nil {
		return err
	}
	m.HTMLContent = buff.String()
	return nil
}

func (m *EmailMessage) Render() error {
	if err := m.renderText(); err != nil {
		return err
	}
	return m.renderHTML()
}

func (m *EmailMessage) Attach(r io.Reader, filename string, ct ...string) error {
	content, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	at := Attachment{Filename: filename, Content: new(bytes.Buffer)}
	encoder := base64.NewEncoder(base64.StdEncoding, at.Content)
	if _, err := encoder.Write(content); err != nil {
		return err
	}
	if err := encoder.Close(); err != nil {
		return err
	}

	if len(ct) > 0 {
		at.ContentType = ct[0]
	} else {
		at.ContentType = http.DetectContentType(content)
	}
	m.Attachments = append(m.Attachments, at)
	return nil
}

func (m *EmailMessage) HasRecipients() bool  { return len(m.To) > 0 }
func (m *EmailMessage) HasContent() bool     { return (m.TextContent != "") || (m.HTMLContent != "") }
func (m *EmailMessage) HasAttachments() bool { return len(m.Attachments) > 0 }

// ParseEmailTemplates parses the embedded email templates once at startup.
// Each template `name.txt` / `name.gohtml` extends `_base.txt` / `_base.gohtml`.
func ParseEmailTemplates(conf *Config, logger Logger) {
	templatesMu.Lock()
	defer templatesMu.Unlock()

	strictTmpl = conf.Debug || conf.TestMode
	templates = make(tmplCache)

	root := "templates/email"
	fps, err := fs.Glob(appfs.FS, path.Join(root, "*"))
	if err != nil {
		logger.Error(fmt.Sprintf("core.ParseEmailTemplates: %v", err), err)
		return
	}

	for _, fp := range fps {
		fname := path.Base(fp)
		ext := path.Ext(fname)
		if strings.HasPrefix(fname, "_") || !(ext == ".txt" || ext == ".gohtml") {
			continue
		}
		name := strings.TrimSuffix(fname, ext)
		entry, ok := templates[name]
		if !ok {
			entry = make(tmplCacheEntry)
			templates[name] = entry
		}
		if ext == ".txt" {
			tmpl, err := texttmpl.ParseFS(appfs.FS, path.Join(root, "_base.txt"), fp)
			if err != nil {
				logger.Error(fmt.Sprintf("core.ParseEmailTemplates(%s): %v", fname, err), err)
				continue
			}
			if strictTmpl {
				tmpl = tmpl.Option("missingkey=error")
			}
			entry[ext] = tmpl
		} else {
			tmpl, err := htmltmpl.ParseFS(appfs.FS, path.Join(root, "_base.gohtml"), fp)
			if err != nil {
				logger.Error(fmt.Sprintf("core.ParseEmailTemplates(%s): %v", fname, err), err)
				continue
			}
			if strictTmpl {
				tmpl = tmpl.Option("missingkey=error")
			}
			entry[ext] = tmpl
		}
	}
}
