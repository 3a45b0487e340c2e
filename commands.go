package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"roomchat/models"
)

type commandKind string

const (
	commandText     commandKind = "text"
	commandImage    commandKind = "image"
	commandAudio    commandKind = "audio"
	commandLocation commandKind = "location"
	commandState    commandKind = "state"
	commandHelp     commandKind = "help"
	commandQuit     commandKind = "quit"
)

const helpText = `commands:
  <text>                 send a text message
  /image <path>          upload and send an image
  /audio <path>          upload and send a recording
  /location <lat> <lon>  send a map location
  /state                 show the current data source
  /quit                  leave the room`

type command struct {
	kind      commandKind
	text      string
	path      string
	latitude  float64
	longitude float64
}

var errUsage = errors.New("unknown command, type /help")

func parseCommand(line string) (command, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		return command{kind: commandText, text: line}, nil
	}

	fields := strings.Fields(trimmed)
	switch fields[0] {
	case "/quit", "/exit":
		return command{kind: commandQuit}, nil
	case "/help":
		return command{kind: commandHelp}, nil
	case "/state":
		return command{kind: commandState}, nil
	case "/image", "/audio":
		path := strings.TrimSpace(strings.TrimPrefix(trimmed, fields[0]))
		if path == "" {
			return command{}, fmt.Errorf("usage: %s <path>", fields[0])
		}
		kind := commandImage
		if fields[0] == "/audio" {
			kind = commandAudio
		}
		return command{kind: kind, path: path}, nil
	case "/location":
		if len(fields) != 3 {
			return command{}, errors.New("usage: /location <lat> <lon>")
		}
		lat, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return command{}, fmt.Errorf("invalid latitude %q", fields[1])
		}
		lon, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return command{}, fmt.Errorf("invalid longitude %q", fields[2])
		}
		return command{kind: commandLocation, latitude: lat, longitude: lon}, nil
	default:
		return command{}, errUsage
	}
}

func formatMessage(m models.Message) string {
	stamp := m.CreatedAt.Local().Format("15:04")
	body := ""
	switch m.Payload.Kind() {
	case models.PayloadText:
		body, _ = m.Payload.Text()
	case models.PayloadImage:
		url, _ := m.Payload.URL()
		body = "[image] " + url
	case models.PayloadAudio:
		url, _ := m.Payload.URL()
		body = "[audio] " + url
	case models.PayloadLocation:
		loc, _ := m.Payload.Location()
		body = fmt.Sprintf("[location] %.5f,%.5f", loc.Latitude, loc.Longitude)
	}

	if m.IsSystem {
		return fmt.Sprintf("[%s] * %s", stamp, body)
	}
	return fmt.Sprintf("[%s] %s: %s", stamp, m.AuthorName, body)
}
