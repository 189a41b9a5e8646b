// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package alert sends operator alerts by mail and SMS.
package alert // import "github.com/go-lpc/odmr/internal/alert"

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	mail "gopkg.in/gomail.v2"
)

var (
	ErrNoCredentials = errors.New("alert: missing credentials")
)

// Mailer sends alerts by mail.
type Mailer struct {
	Usr      string
	Pwd      string
	Srv      string
	Port     int
	Tgts     []string
	Prefix   string // subject prefix, e.g. "[odmr-acq]"
	SMS      string // SMS gateway end-point (optional)
	Insecure bool   // skip TLS certificate verification

	send func(d *mail.Dialer, msg *mail.Message) error
}

// FromEnv creates a mailer from the MAIL_USERNAME, MAIL_PASSWORD,
// MAIL_SERVER, MAIL_PORT, MAIL_TGTS and SMS_ENDPOINT environment
// variables.
func FromEnv(prefix string) *Mailer {
	var tgts []string
	for _, v := range strings.Split(os.Getenv("MAIL_TGTS"), ",") {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		tgts = append(tgts, v)
	}
	return &Mailer{
		Usr:      os.Getenv("MAIL_USERNAME"),
		Pwd:      os.Getenv("MAIL_PASSWORD"),
		Srv:      os.Getenv("MAIL_SERVER"),
		Port:     atoi(os.Getenv("MAIL_PORT")),
		Tgts:     tgts,
		Prefix:   prefix,
		SMS:      os.Getenv("SMS_ENDPOINT"),
		Insecure: true,
	}
}

func (m *Mailer) ok() bool {
	return m.Usr != "" && m.Pwd != "" &&
		m.Srv != "" && m.Port != 0 &&
		len(m.Tgts) != 0
}

func (m *Mailer) subject(s string) string {
	if m.Prefix == "" {
		return s
	}
	return m.Prefix + " " + s
}

// Send mails the alert to all targets.
func (m *Mailer) Send(subject, body string) error {
	if !m.ok() {
		return ErrNoCredentials
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.Usr)
	msg.SetHeader("Bcc", m.Tgts...)
	msg.SetHeader("Subject", m.subject(subject))
	msg.SetBody("text/plain", body)

	dial := mail.NewDialer(m.Srv, m.Port, m.Usr, m.Pwd)
	dial.TLSConfig = &tls.Config{
		ServerName:         m.Srv,
		InsecureSkipVerify: m.Insecure,
	}

	send := m.send
	if send == nil {
		send = func(d *mail.Dialer, msg *mail.Message) error {
			return d.DialAndSend(msg)
		}
	}
	err := send(dial, msg)
	if err != nil {
		return fmt.Errorf("alert: could not send mail: %w", err)
	}
	return nil
}

// SendSMS posts the alert to the SMS gateway.
func (m *Mailer) SendSMS(text string) error {
	if m.SMS == "" {
		return fmt.Errorf("alert: no sms end-point")
	}

	var msg struct {
		Action string `json:"action"`
		Data   struct {
			All bool   `json:"all"`
			Msg string `json:"message"`
		} `json:"data"`
	}
	msg.Action = "send"
	msg.Data.All = true
	msg.Data.Msg = m.subject(text)

	data := new(bytes.Buffer)
	err := json.NewEncoder(data).Encode(msg)
	if err != nil {
		return fmt.Errorf("alert: could not encode sms: %w", err)
	}

	resp, err := http.Post(m.SMS, "application/json", data)
	if err != nil {
		return fmt.Errorf("alert: could not post sms: %w", err)
	}
	defer resp.Body.Close()

	var status struct {
		Msg string `json:"status"`
	}
	err = json.NewDecoder(resp.Body).Decode(&status)
	if err != nil {
		return fmt.Errorf("alert: could not decode sms reply: %w", err)
	}
	if status.Msg != "success" {
		return fmt.Errorf("alert: could not send sms: status=%q", status.Msg)
	}
	return nil
}

func atoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
