package rpc

// The four wire shapes this layer's frames take, per the closing/connecting
// handshakes and request/response protocol.

type requestEnvelope struct {
	CallbackName string `bson:"callback_name" json:"callback_name"`
	Message      any    `bson:"message" json:"message"`
}

type requestResponseEnvelope struct {
	CallbackName         string `bson:"callback_name" json:"callback_name"`
	Message              any    `bson:"message" json:"message"`
	ResponseCallbackName string `bson:"response_callback_name" json:"response_callback_name"`
}

type closingEnvelope struct {
	Close bool `bson:"close" json:"close"`
}

type replyEnvelope struct {
	Reply string `bson:"reply" json:"reply"`
}

func isClosingFrame(frame map[string]any) (bool, bool) {
	v, ok := frame["close"]
	if !ok {
		return false, false
	}
	b, _ := v.(bool)
	return true, b
}

func isRequestResponseFrame(frame map[string]any) bool {
	_, ok := frame["response_callback_name"]
	return ok
}

func isRequestFrame(frame map[string]any) bool {
	_, ok := frame["callback_name"]
	return ok
}
