package snmp3

import (
	"crypto/rand"
	"encoding/asn1"
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

var (
	OIDUsmStatsUnsupportedSecLevels = asn1.ObjectIdentifier{1, 3, 6, 1, 6, 3, 15, 1, 1, 1, 0}
	OIDUsmStatsNotInTimeWindows     = asn1.ObjectIdentifier{1, 3, 6, 1, 6, 3, 15, 1, 1, 2, 0}
	OIDUsmStatsUnknownUserNames     = asn1.ObjectIdentifier{1, 3, 6, 1, 6, 3, 15, 1, 1, 3, 0}
	OIDUsmStatsUnknownEngineIDs     = asn1.ObjectIdentifier{1, 3, 6, 1, 6, 3, 15, 1, 1, 4, 0}
	OIDUsmStatsWrongDigests         = asn1.ObjectIdentifier{1, 3, 6, 1, 6, 3, 15, 1, 1, 5, 0}
	OIDUsmStatsDecryptionErrors     = asn1.ObjectIdentifier{1, 3, 6, 1, 6, 3, 15, 1, 1, 6, 0}
)

var usmStatsNames = []struct {
	oid  asn1.ObjectIdentifier
	name string
}{
	{OIDUsmStatsUnsupportedSecLevels, "usmStatsUnsupportedSecLevels"},
	{OIDUsmStatsNotInTimeWindows, "usmStatsNotInTimeWindows"},
	{OIDUsmStatsUnknownUserNames, "usmStatsUnknownUserNames"},
	{OIDUsmStatsUnknownEngineIDs, "usmStatsUnknownEngineIDs"},
	{OIDUsmStatsWrongDigests, "usmStatsWrongDigests"},
	{OIDUsmStatsDecryptionErrors, "usmStatsDecryptionErrors"},
}

// reportCounter returns the first usmStats variable found in a report PDU.
func reportCounter(pdu *PDU) (asn1.ObjectIdentifier, string, bool) {
	for _, vb := range pdu.VariableBindings {
		for _, s := range usmStatsNames {
			if vb.Name.Equal(s.oid) {
				return s.oid, s.name, true
			}
		}
	}
	return nil, "", false
}

// SecurityState is the progress of one logical request through the security
// model.
type SecurityState int

const (
	SecurityStateNoSecurity SecurityState = iota
	SecurityStateNeedsDiscovery
	SecurityStateDiscovering
	SecurityStateDiscovered
	SecurityStateSecured
	SecurityStateVerified
	SecurityStateRediscoveryNeeded
	SecurityStateRejected
)

func (s SecurityState) String() string {
	switch s {
	case SecurityStateNoSecurity:
		return "NoSecurity"
	case SecurityStateNeedsDiscovery:
		return "NeedsDiscovery"
	case SecurityStateDiscovering:
		return "Discovering"
	case SecurityStateDiscovered:
		return "Discovered"
	case SecurityStateSecured:
		return "Secured"
	case SecurityStateVerified:
		return "Verified"
	case SecurityStateRediscoveryNeeded:
		return "RediscoveryNeeded"
	case SecurityStateRejected:
		return "Rejected"
	}
	return fmt.Sprintf("SecurityState(%d)", int(s))
}

// Options are the per target security settings of a request. Protocol names
// are resolved through the Registry of the UserSecurityModel.
type Options struct {
	// Host keys the time synchronization cache, usually the target address.
	// When empty the authoritative engine ID is used.
	Host string
	// EngineID is the expected authoritative engine. Zero means discover.
	EngineID EngineID

	UserName     string
	AuthProtocol string
	AuthPassword string
	PrivProtocol string
	PrivPassword string
}

// SecurityLevel is the strongest level the options can serve.
func (o Options) SecurityLevel() SecurityLevel {
	switch {
	case isNoProtocol(o.AuthProtocol):
		return SecurityLevelNoAuthNoPriv
	case isNoProtocol(o.PrivProtocol):
		return SecurityLevelAuthNoPriv
	}
	return SecurityLevelAuthPriv
}

func (o Options) cacheKey(id EngineID) string {
	if o.Host != "" {
		return o.Host
	}
	return id.String()
}

type UserSecurityModel struct {
	registry *Registry
	cache    *TimeSyncCache
	metrics  *Metrics
	now      func() time.Time

	msgID atomic.Uint32
}

type Option func(*UserSecurityModel)

func WithRegistry(r *Registry) Option {
	return func(u *UserSecurityModel) { u.registry = r }
}

func WithTimeSyncCache(c *TimeSyncCache) Option {
	return func(u *UserSecurityModel) { u.cache = c }
}

func WithMetrics(m *Metrics) Option {
	return func(u *UserSecurityModel) { u.metrics = m }
}

// WithClock sets the clock of the time synchronization cache.
func WithClock(now func() time.Time) Option {
	return func(u *UserSecurityModel) { u.now = now }
}

func NewUserSecurityModel(opts ...Option) *UserSecurityModel {
	u := &UserSecurityModel{}
	for _, o := range opts {
		o(u)
	}
	if u.registry == nil {
		u.registry = NewRegistry()
	}
	if u.cache == nil {
		u.cache = NewTimeSyncCache()
	}
	if u.now != nil {
		u.cache.SetClock(u.now)
	}

	var b [4]byte
	if _, err := rand.Read(b[:]); err == nil {
		u.msgID.Store(binary.BigEndian.Uint32(b[:]))
	}
	return u
}

func (u *UserSecurityModel) Registry() *Registry      { return u.registry }
func (u *UserSecurityModel) TimeSync() *TimeSyncCache { return u.cache }

// NextMessageID returns a message ID in 0..2^31-1.
func (u *UserSecurityModel) NextMessageID() int32 {
	return int32(u.msgID.Add(1) & math.MaxInt32)
}

// State reports where a request with opts stands before it is sent.
func (u *UserSecurityModel) State(opts Options) SecurityState {
	if opts.SecurityLevel() == SecurityLevelNoAuthNoPriv {
		return SecurityStateNoSecurity
	}
	key := opts.cacheKey(opts.EngineID)
	if u.cache.IsFresh(key) {
		return SecurityStateDiscovered
	}
	if u.cache.rediscoveryPending(key) {
		return SecurityStateRediscoveryNeeded
	}
	return SecurityStateNeedsDiscovery
}

func (u *UserSecurityModel) protocols(flags MessageFlag, opts Options) (AuthProtocol, *Privacy, error) {
	auth, err := u.registry.AuthProtocol(opts.AuthProtocol)
	if err != nil {
		return AuthProtocolNone, nil, &AuthenticationError{Reason: "authentication protocol", Err: err}
	}
	if flags.Auth() && auth == AuthProtocolNone {
		return AuthProtocolNone, nil, &AuthenticationError{Reason: "no authentication protocol configured", Err: ErrUnsupportedProtocol}
	}
	if !flags.Priv() {
		return auth, nil, nil
	}
	priv, err := u.registry.Privacy(opts.PrivProtocol)
	if err != nil {
		return AuthProtocolNone, nil, &EncryptionError{Reason: "privacy protocol", Err: err}
	}
	if priv == nil {
		return AuthProtocolNone, nil, &EncryptionError{Reason: "no privacy protocol configured", Err: ErrUnsupportedProtocol}
	}
	return auth, priv, nil
}

// securityParameters builds the parameters of an outgoing message from the
// options and the synchronized time of the target engine.
func (u *UserSecurityModel) securityParameters(opts Options) *SecurityParameters {
	sp := &SecurityParameters{AuthoritativeEngineID: opts.EngineID}
	key := opts.cacheKey(opts.EngineID)
	r, ok := u.cache.Get(key)
	if !ok {
		return sp
	}
	if sp.AuthoritativeEngineID.IsZero() {
		sp.AuthoritativeEngineID = r.EngineID
	}
	if sp.AuthoritativeEngineID.Equal(r.EngineID) {
		sp.AuthoritativeEngineBoots, sp.AuthoritativeEngineTime, _ = u.cache.Estimate(key)
	}
	return sp
}

// HandleOutgoingMessage secures msg according to its header flags: the scoped
// PDU is encrypted first, then the user name is set, then the whole message
// is authenticated. Messages without auth or priv flags pass through. msg is
// left untouched when securing fails.
func (u *UserSecurityModel) HandleOutgoingMessage(msg *Message, opts Options) (*Message, error) {
	flags := msg.Header.Flags
	if !flags.Auth() && !flags.Priv() {
		return msg, nil
	}
	if flags.Priv() && !flags.Auth() {
		return nil, &MalformedError{Field: "message flags", Reason: "privacy without authentication"}
	}
	auth, priv, err := u.protocols(flags, opts)
	if err != nil {
		return nil, err
	}
	if err := checkPassword(opts.AuthPassword); err != nil {
		return nil, &AuthenticationError{Reason: "authentication password", Err: err}
	}
	if flags.Priv() {
		if err := checkPassword(opts.PrivPassword); err != nil {
			return nil, &EncryptionError{Reason: "privacy password", Err: err}
		}
	}

	var sp SecurityParameters
	if msg.SecurityParameters != nil {
		sp = *msg.SecurityParameters
	} else {
		sp = *u.securityParameters(opts)
	}
	if sp.AuthoritativeEngineID.IsZero() {
		return nil, &SecurityModelError{Reason: "authoritative engine not discovered", Err: ErrUnknownEngineID}
	}
	secured := *msg
	secured.SecurityParameters = &sp
	secured.Header.SecurityModel = SecurityModelUSM

	if flags.Priv() {
		scoped, ok := msg.ScopedPDU()
		if !ok {
			return nil, &EncryptionError{Reason: "message has no plaintext scoped PDU"}
		}
		plain, err := scoped.Marshal()
		if err != nil {
			return nil, err
		}
		encrypted, err := priv.Encrypt(plain, &sp, auth, opts.PrivPassword)
		if err != nil {
			return nil, err
		}
		secured.ReplacePayload(encrypted)
	}

	sp.UserName = opts.UserName

	if err := auth.AuthenticateOutgoing(&secured, opts.AuthPassword); err != nil {
		return nil, err
	}

	if msg.SecurityParameters != nil {
		*msg.SecurityParameters = sp
		secured.SecurityParameters = msg.SecurityParameters
	}
	*msg = secured
	return msg, nil
}

// HandleIncomingMessage verifies and decrypts a received message in place.
// Report PDUs are mapped to errors: notInTimeWindow yields a
// *RediscoveryError the first time and ErrRediscoveryExhausted after that,
// the other usmStats reports yield a *SecurityModelError. The time
// synchronization cache is refreshed only by authenticated messages.
func (u *UserSecurityModel) HandleIncomingMessage(msg *Message, opts Options) (*Message, error) {
	if msg.Header.SecurityModel != SecurityModelUSM || msg.SecurityParameters == nil {
		return nil, &SecurityModelError{
			Reason:   fmt.Sprintf("unsupported security model %d", msg.Header.SecurityModel),
			Response: msg,
		}
	}
	sp := msg.SecurityParameters
	flags := msg.Header.Flags
	key := opts.cacheKey(sp.AuthoritativeEngineID)

	if err := u.checkEngineID(sp.AuthoritativeEngineID, key, opts, msg); err != nil {
		return nil, err
	}

	auth, priv, err := u.protocols(flags, opts)
	if err != nil {
		return nil, err
	}
	if flags.Auth() {
		if sp.UserName != opts.UserName {
			return nil, &SecurityModelError{Reason: fmt.Sprintf("unexpected user name %q", sp.UserName), Response: msg}
		}
		if err := auth.AuthenticateIncoming(msg, opts.AuthPassword); err != nil {
			return nil, err
		}
		if err := u.checkTimeliness(sp, key, msg); err != nil {
			return nil, err
		}
	}

	if flags.Priv() {
		encrypted, ok := msg.EncryptedPDU()
		if !ok {
			return nil, &EncryptionError{Reason: "message has no encrypted scoped PDU"}
		}
		plain, err := priv.Decrypt(encrypted, sp, auth, opts.PrivPassword)
		if err != nil {
			return nil, err
		}
		scoped := &ScopedPDU{}
		if err := scoped.Unmarshal(plain); err != nil {
			return nil, &EncryptionError{Reason: "decrypted scoped PDU", Err: err}
		}
		msg.ReplacePayload(scoped)
	}

	scoped, ok := msg.ScopedPDU()
	if !ok {
		return nil, &MalformedError{Field: "message", Reason: "missing scoped PDU"}
	}
	if scoped.PDU.Type == PDUTypeReport {
		return nil, u.handleReport(msg, &scoped.PDU, key)
	}

	if flags.Auth() {
		// a concurrent message may have moved the record since checkTimeliness
		if r, ok := u.cache.Advance(key, sp.AuthoritativeEngineID, sp.AuthoritativeEngineBoots, sp.AuthoritativeEngineTime); !ok {
			return nil, notInTimeWindow(sp, r, msg)
		}
	}
	if scoped.PDU.Type == PDUTypeResponse && scoped.PDU.ErrorStatus != ErrorStatusNoError {
		return msg, newProtocolError(msg)
	}
	return msg, nil
}

func (u *UserSecurityModel) checkEngineID(id EngineID, key string, opts Options, msg *Message) error {
	if id.IsZero() {
		return nil
	}
	expected := opts.EngineID
	if expected.IsZero() {
		expected, _ = u.cache.KnownEngineID(key)
	}
	if expected.IsZero() || expected.Equal(id) {
		return nil
	}
	return &SecurityModelError{
		Reason:   fmt.Sprintf("expected engine %s, got %s", expected, id),
		Response: msg,
		Err:      ErrEngineIDMismatch,
	}
}

// checkTimeliness rejects authenticated messages older than what the engine
// already told us (RFC 3414 3.2 step 7b).
func (u *UserSecurityModel) checkTimeliness(sp *SecurityParameters, key string, msg *Message) error {
	r, ok := u.cache.Get(key)
	if !ok || !r.EngineID.Equal(sp.AuthoritativeEngineID) {
		return nil
	}
	if !inTimeWindow(r, sp.AuthoritativeEngineBoots, sp.AuthoritativeEngineTime) {
		return notInTimeWindow(sp, r, msg)
	}
	return nil
}

func notInTimeWindow(sp *SecurityParameters, r TimeSyncRecord, msg *Message) error {
	return &SecurityModelError{
		Reason: fmt.Sprintf("not in time window: boots %d time %d, last seen boots %d time %d",
			sp.AuthoritativeEngineBoots, sp.AuthoritativeEngineTime, r.EngineBoots, r.EngineTime),
		Response: msg,
	}
}

func (u *UserSecurityModel) handleReport(msg *Message, pdu *PDU, key string) error {
	oid, name, ok := reportCounter(pdu)
	if !ok {
		return newProtocolError(msg)
	}
	u.metrics.report(name)

	switch {
	case oid.Equal(OIDUsmStatsNotInTimeWindows):
		if u.cache.MarkRediscovery(key) {
			logln("rediscovery of", key, "already attempted, giving up")
			return &SecurityModelError{Reason: name, Response: msg, Err: ErrRediscoveryExhausted}
		}
		u.metrics.rediscovery()
		logln("engine", key, "reported", name, "rediscovery needed")
		return &RediscoveryError{Response: msg}
	case oid.Equal(OIDUsmStatsUnknownEngineIDs):
		return &SecurityModelError{Reason: name, Response: msg, Err: ErrUnknownEngineID}
	}
	return &SecurityModelError{Reason: name, Response: msg}
}

const defaultMaxSize = 65507

// GetDiscoveryRequest returns the probe that makes the target engine report
// its engine ID, boots and time, or nil when opts need no security or the
// cached synchronization is still fresh.
func (u *UserSecurityModel) GetDiscoveryRequest(opts Options) *Message {
	switch u.State(opts) {
	case SecurityStateNoSecurity, SecurityStateDiscovered:
		return nil
	}
	return NewMessage(
		Header{
			ID:            u.NextMessageID(),
			MaxSize:       defaultMaxSize,
			Flags:         MessageFlagReportable,
			SecurityModel: SecurityModelUSM,
		},
		&SecurityParameters{},
		&ScopedPDU{PDU: PDU{Type: PDUTypeGetRequest, RequestID: u.NextMessageID()}},
	)
}

// HandleDiscoveryResponse accepts an usmStatsUnknownEngineIDs report and
// installs the discovered engine ID, boots and time into original.
func (u *UserSecurityModel) HandleDiscoveryResponse(original, response *Message, opts Options) (*Message, error) {
	sp := response.SecurityParameters
	if sp == nil || sp.AuthoritativeEngineID.IsZero() {
		return nil, &SecurityModelError{Reason: "discovery response carries no engine ID", Response: response, Err: ErrUnknownEngineID}
	}
	scoped, ok := response.ScopedPDU()
	if !ok || scoped.PDU.Type != PDUTypeReport {
		return nil, &SecurityModelError{Reason: "discovery response is not a report", Response: response}
	}
	oid, name, ok := reportCounter(&scoped.PDU)
	if !ok || !oid.Equal(OIDUsmStatsUnknownEngineIDs) {
		if name == "" {
			name = "no usmStats variable"
		}
		return nil, &SecurityModelError{Reason: "unexpected discovery report: " + name, Response: response}
	}
	id := sp.AuthoritativeEngineID
	if !opts.EngineID.IsZero() && !opts.EngineID.Equal(id) {
		return nil, &SecurityModelError{
			Reason:   fmt.Sprintf("expected engine %s, got %s", opts.EngineID, id),
			Response: response,
			Err:      ErrEngineIDMismatch,
		}
	}

	key := opts.cacheKey(id)
	u.cache.Update(key, id, sp.AuthoritativeEngineBoots, sp.AuthoritativeEngineTime)
	u.metrics.discovery()
	logln("discovered engine", id, "for", key, "boots", sp.AuthoritativeEngineBoots, "time", sp.AuthoritativeEngineTime)

	if original == nil {
		return nil, nil
	}
	if original.SecurityParameters == nil {
		original.SecurityParameters = &SecurityParameters{}
	}
	osp := original.SecurityParameters
	osp.AuthoritativeEngineID = id
	osp.AuthoritativeEngineBoots = sp.AuthoritativeEngineBoots
	osp.AuthoritativeEngineTime = sp.AuthoritativeEngineTime
	if s, ok := original.ScopedPDU(); ok && s.ContextEngineID.IsZero() {
		s.ContextEngineID = id
	}
	return original, nil
}
