package snmp3

import (
	"fmt"
	"net"
)

type MessageProcessingModel struct {
	usm *UserSecurityModel
	lcd LocalConfigurationDatastore
}

func NewMessageProcessingModel(usm *UserSecurityModel, lcd LocalConfigurationDatastore) *MessageProcessingModel {
	return &MessageProcessingModel{usm: usm, lcd: lcd}
}

// PrepareDataElements decodes a received datagram and runs it through the
// user security model as the user it names.
func (m *MessageProcessingModel) PrepareDataElements(data []byte, addr net.Addr) (*Message, error) {
	msg, err := ParseMessage(data)
	if err != nil {
		return nil, err
	}
	msg.RemoteAddr = addr
	if msg.Header.SecurityModel != SecurityModelUSM {
		return nil, &SecurityModelError{
			Reason:   fmt.Sprintf("unsupported security model %d", msg.Header.SecurityModel),
			Response: msg,
		}
	}

	sp := msg.SecurityParameters
	var opts Options
	if sp.UserName != "" || msg.Header.Flags.Auth() {
		user, err := m.lcd.GetUser(sp.AuthoritativeEngineID, sp.UserName)
		if err != nil {
			return nil, &SecurityModelError{
				Reason:   fmt.Sprintf("user %q", sp.UserName),
				Response: msg,
				Err:      err,
			}
		}
		opts = user.Options("")
	}
	return m.usm.HandleIncomingMessage(msg, opts)
}
