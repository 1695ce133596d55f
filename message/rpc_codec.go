package message

// PushRPCMessage serializes an RPCMessage payload. Registered against
// the TypeRegistry so the writer can push *RPCMessage/RPCMessage
// bundles without knowing the concrete type.
func PushRPCMessage(s Serializer, payload any) error {
	var msg RPCMessage
	switch v := payload.(type) {
	case RPCMessage:
		msg = v
	case *RPCMessage:
		msg = *v
	}
	if err := s.PushString(msg.ServiceMethod); err != nil {
		return err
	}
	if err := s.PushString(msg.Error); err != nil {
		return err
	}
	if err := s.PushBytes(msg.Payload); err != nil {
		return err
	}
	return s.PushUint64Cross(msg.ReplyKey)
}

// PullRPCMessage is PushRPCMessage's mirror, used by tests and by any
// out-of-scope reader exercising the same wire format.
func PullRPCMessage(d Deserializer) (any, error) {
	sm, err := d.PullString()
	if err != nil {
		return nil, err
	}
	errStr, err := d.PullString()
	if err != nil {
		return nil, err
	}
	payload, err := d.PullLengthPrefixedBytes()
	if err != nil {
		return nil, err
	}
	key, err := d.PullUint64Cross()
	if err != nil {
		return nil, err
	}
	return RPCMessage{ServiceMethod: sm, Error: errStr, Payload: payload, ReplyKey: key}, nil
}
