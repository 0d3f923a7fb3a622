package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/nerrad567/gray-logic-knxip/internal/knxip/connection"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/dpt"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/frame"
)

// frameSummary is the printable form of one KNXnet/IP datagram.
type frameSummary struct {
	Time        *time.Time `json:"time,omitempty"`
	From        string     `json:"from,omitempty"`
	Service     string     `json:"service"`
	Channel     *uint8     `json:"channel,omitempty"`
	Sequence    *uint8     `json:"sequence,omitempty"`
	Status      string     `json:"status,omitempty"`
	MessageCode string     `json:"message_code,omitempty"`
	Source      string     `json:"source,omitempty"`
	Destination string     `json:"destination,omitempty"`
	APCI        string     `json:"apci,omitempty"`
	Data        string     `json:"data,omitempty"`
	Value       any        `json:"value,omitempty"`
	Error       string     `json:"error,omitempty"`
}

func summarizeFrame(f *frame.Frame) frameSummary {
	s := frameSummary{Service: f.ServiceType().String()}
	if ch, ok := f.ChannelID(); ok {
		s.Channel = &ch
	}
	switch b := f.Body.(type) {
	case *frame.TunnelingRequest:
		seq := b.State.Sequence
		s.Sequence = &seq
	case *frame.TunnelingAck:
		seq := b.State.Sequence
		s.Sequence = &seq
		s.Status = b.State.Status.String()
	case *frame.ConnectResponse:
		s.Status = b.State.Status.String()
	case *frame.ConnectionStateResponse:
		s.Status = b.State.Status.String()
	}
	if c := f.CEMI(); c != nil {
		s.MessageCode = c.MessageCode.String()
		if c.MessageCode.IsLData() {
			s.Source = c.Source.String()
			s.Destination = c.DestinationString()
			s.APCI = c.APDU.APCI.String()
			s.Data = hex.EncodeToString(c.APDU.Data)
		}
	}
	return s
}

// summarizeEvent converts a telegram event from a live link.
func summarizeEvent(ev connection.Event, dptID string) frameSummary {
	at := ev.Time
	s := frameSummary{
		Time:        &at,
		Service:     ev.Name,
		Source:      ev.Source.String(),
		Destination: ev.Destination,
		APCI:        ev.APCI.String(),
		Data:        hex.EncodeToString(ev.Data),
	}
	if dptID != "" && len(ev.Data) > 0 {
		if v, err := ev.Value(dptID); err != nil {
			s.Error = err.Error()
		} else {
			s.Value = v
		}
	}
	return s
}

// summarizeLink converts a connected or disconnected event.
func summarizeLink(ev connection.Event) frameSummary {
	at := ev.Time
	s := frameSummary{Time: &at, Service: ev.Name}
	if ev.Err != nil {
		s.Error = ev.Err.Error()
	}
	return s
}

func (s frameSummary) text() string {
	line := ""
	if s.Time != nil {
		line = s.Time.Format("15:04:05.000") + " "
	}
	if s.From != "" {
		line += s.From + " "
	}
	line += s.Service
	if s.Channel != nil {
		line += fmt.Sprintf(" ch=%d", *s.Channel)
	}
	if s.Sequence != nil {
		line += fmt.Sprintf(" seq=%d", *s.Sequence)
	}
	if s.Status != "" {
		line += " status=" + s.Status
	}
	if s.MessageCode != "" {
		line += " " + s.MessageCode
	}
	if s.APCI != "" {
		line += fmt.Sprintf(" %s %s->%s", s.APCI, s.Source, s.Destination)
	}
	if s.Data != "" {
		line += " data=" + s.Data
	}
	if s.Value != nil {
		line += fmt.Sprintf(" value=%v", s.Value)
	}
	if s.Error != "" {
		line += " error=" + s.Error
	}
	return line
}

// printer writes one record per line in the selected format.
type printer struct {
	w      io.Writer
	format string
	enc    *json.Encoder
}

func newPrinter(w io.Writer, format string) *printer {
	return &printer{w: w, format: format, enc: json.NewEncoder(w)}
}

// print writes v as JSON, or line as text.
func (p *printer) print(v any, line string) error {
	if p.format == "json" {
		return p.enc.Encode(v)
	}
	_, err := fmt.Fprintln(p.w, line)
	return err
}

// withValue decodes the cEMI payload of f as dptID into s.
func withValue(s *frameSummary, f *frame.Frame, dptID string) {
	c := f.CEMI()
	if c == nil || !c.MessageCode.IsLData() || len(c.APDU.Data) == 0 {
		return
	}
	v, err := dpt.Decode(c.APDU.Data, dptID)
	if err != nil {
		s.Error = err.Error()
		return
	}
	s.Value = v
}
