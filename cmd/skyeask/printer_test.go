package main

import (
	"strings"
	"testing"

	"github.com/skyegpt/skyegpt-web/internal/chat"
	"github.com/skyegpt/skyegpt-web/internal/models"
)

func botMessage(text string) models.Message {
	return models.Message{ID: "bot", Sender: models.SenderBot, Text: text}
}

func TestLivePrinterRaw(t *testing.T) {
	var out, errOut strings.Builder
	p := newLivePrinter(&out, &errOut, true)

	p.PublishMessage(models.Message{ID: "user", Sender: models.SenderUser, Text: "question"})
	p.PublishMessage(botMessage(""))
	p.PublishMessage(botMessage("Hello"))
	p.PublishMessage(botMessage("Hello world"))
	p.finish("Hello world")

	if got, want := out.String(), "Hello world\n"; got != want {
		t.Errorf("out = %q, want %q", got, want)
	}
}

func TestLivePrinterRawReplacement(t *testing.T) {
	var out, errOut strings.Builder
	p := newLivePrinter(&out, &errOut, true)

	p.PublishMessage(botMessage("Partial"))
	p.finish("Error: boom")

	if got, want := out.String(), "Partial\nError: boom\n"; got != want {
		t.Errorf("out = %q, want %q", got, want)
	}
}

func TestLivePrinterRenderedModeSkipsText(t *testing.T) {
	var out, errOut strings.Builder
	p := newLivePrinter(&out, &errOut, false)

	p.PublishMessage(botMessage("Hello"))

	if out.Len() != 0 {
		t.Errorf("out = %q, want nothing before rendering", out.String())
	}
}

func TestLivePrinterStatus(t *testing.T) {
	var out, errOut strings.Builder
	p := newLivePrinter(&out, &errOut, false)

	p.PublishStatus(chat.Status{Loading: true, Texts: []string{"Searching..."}})
	p.PublishStatus(chat.Status{Loading: true, Texts: []string{"Searching..."}})
	p.PublishStatus(chat.Status{Loading: false})

	want := "Searching..." + "\r" + strings.Repeat(" ", len("Searching...")) + "\r"
	if got := errOut.String(); got != want {
		t.Errorf("errOut = %q, want %q", got, want)
	}
}
