// Copyright 2014 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package jid

import (
	"encoding/xml"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
	"golang.org/x/text/secure/precis"
)

// ErrInvalid is wrapped by every error returned when a string or set of parts
// does not form a valid JID.
var ErrInvalid = errors.New("invalid-jid")

func invalid(format string, v ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalid}, v...)...)
}

// Profile holds the normalization functions applied to each part of a JID.
// Each function receives a non-empty part and returns its canonical form or an
// error if the part is not allowed.
type Profile struct {
	Local    func(string) (string, error)
	Domain   func(string) (string, error)
	Resource func(string) (string, error)
}

// DefaultProfile enforces the UsernameCaseMapped PRECIS profile on localparts,
// the OpaqueString profile on resourceparts and IDNA lookup rules on
// domainparts.
var DefaultProfile = Profile{
	Local:    precis.UsernameCaseMapped.String,
	Domain:   idna.Lookup.ToUnicode,
	Resource: precis.OpaqueString.String,
}

// JID represents an XMPP address (Jabber ID) comprising a localpart,
// domainpart, and resourcepart. All parts of a JID are guaranteed to be valid
// UTF-8 and will be represented in their canonical form which gives comparison
// the greatest chance of succeeding.
//
// The zero value is an empty JID which is not valid on the wire.
type JID struct {
	local    string
	domain   string
	resource string
}

// Parse constructs a new JID from the given string representation using the
// DefaultProfile.
func Parse(s string) (JID, error) {
	return DefaultProfile.Parse(s)
}

// MustParse is like Parse but panics if the JID cannot be parsed.
// It simplifies safe initialization of JIDs from known-good constant strings.
func MustParse(s string) JID {
	j, err := Parse(s)
	if err != nil {
		if strconv.CanBackquote(s) {
			s = "`" + s + "`"
		} else {
			s = strconv.Quote(s)
		}
		panic(`jid: Parse(` + s + `): ` + err.Error())
	}
	return j
}

// New constructs a new JID from the given localpart, domainpart, and
// resourcepart using the DefaultProfile.
func New(localpart, domainpart, resourcepart string) (JID, error) {
	return DefaultProfile.New(localpart, domainpart, resourcepart)
}

// Parse constructs a new JID from its string representation.
func (p Profile) Parse(s string) (JID, error) {
	localpart, domainpart, resourcepart, err := SplitString(s)
	if err != nil {
		return JID{}, err
	}
	return p.New(localpart, domainpart, resourcepart)
}

// New constructs a new JID from the given localpart, domainpart, and
// resourcepart. The localpart and resourcepart may be empty.
func (p Profile) New(localpart, domainpart, resourcepart string) (JID, error) {
	local, err := p.localpart(localpart)
	if err != nil {
		return JID{}, err
	}
	domain, err := p.domainpart(domainpart)
	if err != nil {
		return JID{}, err
	}
	resource, err := p.resourcepart(resourcepart)
	if err != nil {
		return JID{}, err
	}
	return JID{local: local, domain: domain, resource: resource}, nil
}

func (p Profile) localpart(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	if !utf8.ValidString(s) {
		return "", invalid("localpart contains invalid UTF-8")
	}

	// RFC 7622 §3.3.1 provides a small table of characters which are still not
	// allowed in localpart's even though the IdentifierClass base class and the
	// UsernameCaseMapped profile don't forbid them; disallow them here.
	if strings.ContainsAny(s, `"&'/:<>@`) {
		return "", invalid("localpart contains forbidden characters")
	}
	// XEP-0106 §4: escaped localparts must not begin or end with an escaped
	// space.
	if strings.HasPrefix(s, `\20`) || strings.HasSuffix(s, `\20`) {
		return "", invalid("localpart begins or ends with an escaped space")
	}
	if p.Local != nil {
		var err error
		s, err = p.Local(s)
		if err != nil {
			return "", invalid("localpart: %v", err)
		}
	}
	if l := len(s); l < 1 || l > 1023 {
		return "", invalid("the localpart must be between 1 and 1023 bytes")
	}
	return s, nil
}

func (p Profile) domainpart(s string) (string, error) {
	// If the domainpart includes a final character considered to be a label
	// separator (dot) by RFC 1034, this character MUST be stripped from the
	// domainpart before the JID of which it is a part is used for any purpose.
	s = strings.TrimSuffix(s, ".")
	if s == "" {
		return "", invalid("the domainpart must not be empty")
	}
	if !utf8.ValidString(s) {
		return "", invalid("domainpart contains invalid UTF-8")
	}

	switch l := len(s); {
	case strings.HasPrefix(s, "[") || strings.HasSuffix(s, "]"):
		if l < 3 || s[0] != '[' || s[l-1] != ']' {
			return "", invalid("domainpart is not a valid IPv6 literal")
		}
		ip := net.ParseIP(s[1 : l-1])
		if ip == nil || ip.To4() != nil {
			return "", invalid("domainpart is not a valid IPv6 address")
		}
		return "[" + ip.String() + "]", nil
	case isIPv4(s):
		return s, nil
	}

	if p.Domain != nil {
		var err error
		s, err = p.Domain(s)
		if err != nil {
			return "", invalid("domainpart: %v", err)
		}
	}
	if l := len(s); l < 1 || l > 1023 {
		return "", invalid("the domainpart must be between 1 and 1023 bytes")
	}
	if err := checkLabels(s); err != nil {
		return "", err
	}
	return s, nil
}

func (p Profile) resourcepart(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	if !utf8.ValidString(s) {
		return "", invalid("resourcepart contains invalid UTF-8")
	}
	if p.Resource != nil {
		var err error
		s, err = p.Resource(s)
		if err != nil {
			return "", invalid("resourcepart: %v", err)
		}
	}
	if l := len(s); l < 1 || l > 1023 {
		return "", invalid("the resourcepart must be between 1 and 1023 bytes")
	}
	return s, nil
}

func isIPv4(s string) bool {
	if strings.Count(s, ".") != 3 {
		return false
	}
	for _, r := range s {
		if r != '.' && (r < '0' || r > '9') {
			return false
		}
	}
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil
}

// checkLabels validates each DNS label in the ASCII form of the domain.
func checkLabels(domain string) error {
	ascii, err := idna.ToASCII(domain)
	if err != nil {
		return invalid("domainpart: %v", err)
	}
	for _, label := range strings.Split(ascii, ".") {
		switch l := len(label); {
		case l < 1 || l > 63:
			return invalid("domain labels must be between 1 and 63 bytes")
		case label[0] == '-' || label[l-1] == '-':
			return invalid("domain labels must not begin or end with a hyphen")
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-') {
				return invalid("domain label %q contains forbidden characters", label)
			}
		}
	}
	return nil
}

// WithLocal returns a copy of the JID with a new localpart.
// This elides validation of the domainpart and resourcepart.
func (j JID) WithLocal(localpart string) (JID, error) {
	local, err := DefaultProfile.localpart(localpart)
	if err != nil {
		return j, err
	}
	j.local = local
	return j, nil
}

// WithDomain returns a copy of the JID with a new domainpart.
// This elides validation of the localpart and resourcepart.
func (j JID) WithDomain(domainpart string) (JID, error) {
	domain, err := DefaultProfile.domainpart(domainpart)
	if err != nil {
		return j, err
	}
	j.domain = domain
	return j, nil
}

// WithResource returns a copy of the JID with a new resourcepart.
// This elides validation of the localpart and domainpart.
func (j JID) WithResource(resourcepart string) (JID, error) {
	resource, err := DefaultProfile.resourcepart(resourcepart)
	if err != nil {
		return j, err
	}
	j.resource = resource
	return j, nil
}

// Bare returns a copy of the JID without a resourcepart. This is sometimes
// called a "bare" JID.
func (j JID) Bare() JID {
	j.resource = ""
	return j
}

// Domain returns a copy of the JID without a resourcepart or localpart.
func (j JID) Domain() JID {
	return JID{domain: j.domain}
}

// Localpart gets the localpart of a JID (eg "username").
// Escape sequences are left intact.
func (j JID) Localpart() string {
	return j.local
}

// UnescapedLocalpart returns the localpart with any XEP-0106 escape sequences
// replaced by the characters they represent. It is intended for display only.
func (j JID) UnescapedLocalpart() string {
	return UnescapeString(j.local)
}

// Domainpart gets the domainpart of a JID (eg. "example.net").
func (j JID) Domainpart() string {
	return j.domain
}

// Resourcepart gets the resourcepart of a JID.
func (j JID) Resourcepart() string {
	return j.resource
}

// IsZero reports whether j is the empty JID.
func (j JID) IsZero() bool {
	return j == JID{}
}

// Copy makes a copy of the given JID. j.Equal(j.Copy()) will always return
// true.
func (j JID) Copy() JID {
	return j
}

// Network satisfies the net.Addr interface by returning the name of the network
// ("xmpp").
func (JID) Network() string {
	return "xmpp"
}

// String converts an JID to its string representation.
func (j JID) String() string {
	s := j.domain
	if j.local != "" {
		s = j.local + "@" + s
	}
	if j.resource != "" {
		s = s + "/" + j.resource
	}
	return s
}

// Equal performs an octet-for-octet comparison with the given JID.
func (j JID) Equal(j2 JID) bool {
	return j == j2
}

// MarshalXML satisfies the xml.Marshaler interface and marshals the JID as
// XML chardata.
func (j JID) MarshalXML(e *xml.Encoder, start xml.StartElement) (err error) {
	if err = e.EncodeToken(start); err != nil {
		return
	}
	if err = e.EncodeToken(xml.CharData(j.String())); err != nil {
		return
	}
	if err = e.EncodeToken(start.End()); err != nil {
		return
	}
	return e.Flush()
}

// UnmarshalXML satisfies the xml.Unmarshaler interface and unmarshals the JID
// from the elements chardata.
func (j *JID) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	data := struct {
		CharData string `xml:",chardata"`
	}{}
	if err := d.DecodeElement(&data, &start); err != nil {
		return err
	}
	j2, err := Parse(data.CharData)
	if err != nil {
		return err
	}
	*j = j2
	return nil
}

// MarshalXMLAttr satisfies the xml.MarshalerAttr interface and marshals the JID
// as an XML attribute.
func (j JID) MarshalXMLAttr(name xml.Name) (xml.Attr, error) {
	if j.IsZero() {
		return xml.Attr{}, nil
	}
	return xml.Attr{Name: name, Value: j.String()}, nil
}

// UnmarshalXMLAttr satisfies the xml.UnmarshalerAttr interface and unmarshals
// an XML attribute into a valid JID (or returns an error).
func (j *JID) UnmarshalXMLAttr(attr xml.Attr) error {
	if attr.Value == "" {
		return nil
	}
	j2, err := Parse(attr.Value)
	if err != nil {
		return err
	}
	*j = j2
	return nil
}

// SplitString splits out the localpart, domainpart, and resourcepart from a
// string representation of a JID. The parts are not guaranteed to be valid.
// The domainpart is never empty if err is nil.
func SplitString(s string) (localpart, domainpart, resourcepart string, err error) {
	// RFC 7622 §3.1.  Fundamentals:
	//
	//    Implementation Note: When dividing a JID into its component parts,
	//    an implementation needs to match the separator characters '@' and
	//    '/' before applying any transformation algorithms, which might
	//    decompose certain Unicode code points to the separator characters.
	//
	//    1.  Remove any portion from the first '/' character to the end of the
	//        string (if there is a '/' character present).
	if sep := strings.IndexByte(s, '/'); sep != -1 {
		if sep == len(s)-1 {
			err = invalid("the resourcepart must be larger than 0 bytes")
			return
		}
		resourcepart = s[sep+1:]
		s = s[:sep]
	}

	//    2.  Remove any portion from the beginning of the string to the first
	//        '@' character (if there is an '@' character present).
	switch sep := strings.IndexByte(s, '@'); sep {
	case -1:
		domainpart = s
	case 0:
		err = invalid("the localpart must be larger than 0 bytes")
		return
	default:
		domainpart = s[sep+1:]
		localpart = s[:sep]
	}

	domainpart = strings.TrimSuffix(domainpart, ".")
	if domainpart == "" {
		err = invalid("the domainpart must be larger than 0 bytes")
	}
	return
}
