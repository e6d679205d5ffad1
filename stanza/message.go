// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"fmt"
)

// MessageType is the type of a message stanza.
// It should normally be one of the constants defined in this package.
type MessageType string

const (
	// NormalMessage is a standalone message that is sent outside the context of a
	// one-to-one conversation or groupchat, and to which it is expected that the
	// recipient will reply.
	NormalMessage MessageType = "normal"

	// ChatMessage represents a message sent in the context of a one-to-one chat
	// session.
	ChatMessage MessageType = "chat"

	// ErrorMessage is generated by an entity that experiences an error when
	// processing a message received from another entity.
	ErrorMessage MessageType = "error"

	// GroupChatMessage is sent in the context of a multi-user chat environment.
	GroupChatMessage MessageType = "groupchat"

	// HeadlineMessage is probably not going to be replied to by a human.
	HeadlineMessage MessageType = "headline"
)

func (t MessageType) valid() bool {
	switch t {
	case NormalMessage, ChatMessage, ErrorMessage, GroupChatMessage, HeadlineMessage:
		return true
	}
	return false
}

// MessageClass is the class of the <message/> root stanza.
var MessageClass = &Class{
	Name: "message",
	Interfaces: []string{
		"type", "to", "from", "id", "body", "subject", "thread", "parent_thread", "lang",
	},
	SubInterfaces:  []string{"body", "subject", "thread"},
	LangInterfaces: []string{"body", "subject"},
	Accessors: map[string]Accessor{
		"type": {
			Get: func(s *Stanza, _ string) string {
				if t := s.el.AttrValue("type"); t != "" {
					return t
				}
				return string(NormalMessage)
			},
			Set: func(s *Stanza, value, _ string) error {
				if !MessageType(value).valid() {
					return fmt.Errorf("stanza: invalid message type %q", value)
				}
				s.el.SetAttrValue("type", value)
				return nil
			},
		},
		"parent_thread": {
			Get: func(s *Stanza, _ string) string {
				if t := s.el.Child(s.subName("thread")); t != nil {
					return t.AttrValue("parent")
				}
				return ""
			},
			Set: func(s *Stanza, value, _ string) error {
				t := s.el.Child(s.subName("thread"))
				if t == nil {
					name := s.subName("thread")
					t = s.el.AppendChild(NewElement(name.Space, name.Local))
				}
				t.SetAttrValue("parent", value)
				return nil
			},
			Del: func(s *Stanza, _ string) {
				if t := s.el.Child(s.subName("thread")); t != nil {
					t.SetAttrValue("parent", "")
				}
			},
		},
	},
}

// Message is an XMPP stanza that contains a payload for direct one-to-one
// communication with another network entity. It is often used for sending chat
// messages to an individual or group chat server, or for notifications and
// alerts that don't require a response.
type Message struct {
	*Stanza
}

// NewMessage returns a new message of the given type.
func (r *Registry) NewMessage(typ MessageType) Message {
	m := Message{Stanza: r.New(MessageClass)}
	if typ != "" {
		m.el.SetAttrValue("type", string(typ))
	}
	return m
}

// AsMessage returns a Message view of s if s is a message stanza.
func AsMessage(s *Stanza) (Message, bool) {
	if s == nil || s.el.Name.Local != "message" {
		return Message{}, false
	}
	return Message{Stanza: s}, true
}

// Type returns the type of the message, defaulting to NormalMessage.
func (m Message) Type() MessageType {
	return MessageType(m.Get("type"))
}

// SetType sets the type of the message.
func (m Message) SetType(typ MessageType) error {
	return m.Set("type", string(typ))
}

// Body returns the body in the language of the message.
func (m Message) Body() string { return m.Get("body") }

// SetBody sets the body in the language of the message.
func (m Message) SetBody(body string) { _ = m.Set("body", body) }

// Subject returns the subject in the language of the message.
func (m Message) Subject() string { return m.Get("subject") }

// Thread returns the thread identifier.
func (m Message) Thread() string { return m.Get("thread") }

// Reply returns a new message addressed to the sender of m with the same type,
// thread and id and the given body.
func (m Message) Reply(body string) Message {
	reply := m.reg.NewMessage("")
	reply.el.Name.Space = m.el.Name.Space
	reply.el.SetAttrValue("type", m.el.AttrValue("type"))
	reply.SetID(m.ID())
	reply.el.SetAttrValue("to", m.el.AttrValue("from"))
	reply.el.SetAttrValue("from", m.el.AttrValue("to"))
	if t := m.Thread(); t != "" {
		_ = reply.Set("thread", t)
	}
	if body != "" {
		reply.SetBody(body)
	}
	return reply
}
