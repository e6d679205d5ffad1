// Copyright 2019 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/xml"
	"log/slog"
	"time"

	"mellium.im/xmppcore"
	"mellium.im/xmppcore/matcher"
	"mellium.im/xmppcore/mux"
	"mellium.im/xmppcore/ping"
	"mellium.im/xmppcore/stanza"
)

// register installs the echo and ping handlers and sends initial presence
// every time a session starts so that the server routes messages to us.
func register(s *xmpp.Session, logger *slog.Logger) {
	s.Mux().Handle("iq", matcher.Name(xml.Name{Local: "iq"}), mux.NewIQMux(ping.Handle()))
	s.Mux().Handle("echo", matcher.Name(xml.Name{Local: "message"}), mux.MessageHandlerFunc(func(ctx context.Context, w mux.Sender, msg stanza.Message) error {
		// Don't reflect messages unless they are chat messages and actually have a
		// body.
		if msg.Type() != stanza.ChatMessage || msg.Body() == "" {
			return nil
		}
		logger.Debug("replying to message", "id", msg.ID(), "from", msg.From().String())
		return w.Send(ctx, msg.Reply(msg.Body()).Stanza)
	}))

	s.On(xmpp.EventSessionStart, func(xmpp.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		p := s.Registry().NewPresence(stanza.AvailablePresence)
		if err := s.Send(ctx, p.Stanza); err != nil {
			logger.Warn("sending initial presence", "err", err)
		}
	})
	s.On(xmpp.EventReconnectDelay, func(ev xmpp.Event) {
		logger.Info("reconnecting", "delay", ev.Delay, "err", ev.Err)
	})
}

// run keeps the session connected until ctx is canceled and then closes the
// stream gracefully.
func run(ctx context.Context, s *xmpp.Session, logger *slog.Logger) error {
	register(s, logger)

	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		errs <- s.Run(runCtx)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	logger.Info("closing session")
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := s.Disconnect(closeCtx); err != nil {
		logger.Warn("closing session", "err", err)
	}
	return <-errs
}
