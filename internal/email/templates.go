package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	texttemplate "text/template"
)

//go:embed templates/*
var templateFS embed.FS

const (
	subjectHandoffFmt = "Lead aguardando atendimento: %s"
	handoffTemplate   = "handoff.html"
	handoffTextFile   = "templates/handoff.txt"
)

var sourceLabels = map[string]string{
	"explicit":       "pedido do lead",
	"ai_recommended": "recomendação da IA",
	"score":          "pontuação alta",
	"max_turns":      "limite de mensagens da IA",
	"parse_failure":  "resposta da IA inválida",
	"ai_failure":     "falha do serviço de IA",
	"timeout":        "tempo de espera esgotado",
}

type handoffEmailData struct {
	HandoffEmail
	SourceLabel string
}

func handoffSubject(data HandoffEmail) string {
	name := data.LeadName
	if name == "" {
		name = data.LeadPhone
	}
	return fmt.Sprintf(subjectHandoffFmt, name)
}

func renderHandoff(data HandoffEmail) (string, string, error) {
	view := handoffEmailData{HandoffEmail: data, SourceLabel: sourceLabels[data.Source]}
	if view.SourceLabel == "" {
		view.SourceLabel = data.Source
	}

	htmlBody, err := renderEmailTemplate(handoffTemplate, view)
	if err != nil {
		return "", "", err
	}

	tmpl, err := texttemplate.ParseFS(templateFS, handoffTextFile)
	if err != nil {
		return "", "", fmt.Errorf("parse email template %s: %w", handoffTextFile, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, view); err != nil {
		return "", "", fmt.Errorf("execute email template %s: %w", handoffTextFile, err)
	}
	return htmlBody, buf.String(), nil
}

func renderEmailTemplate(name string, data any) (string, error) {
	templates := []string{"templates/base.html", "templates/" + name}
	tmpl, err := template.New("base.html").ParseFS(templateFS, templates...)
	if err != nil {
		return "", fmt.Errorf("parse email template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "email", data); err != nil {
		return "", fmt.Errorf("execute email template %s: %w", name, err)
	}
	return buf.String(), nil
}
