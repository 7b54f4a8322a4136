package breaker

import "fmt"

const DefaultSupportPhone = "+65 6000 0000"

// FallbackResponse is a message safe to show an end user when the chat backend
// or the reply pipeline is unavailable.
func FallbackResponse(phone string) string {
	if phone == "" {
		phone = DefaultSupportPhone
	}
	return fmt.Sprintf(
		"Sorry, we're having trouble replying right now. An advisor will get back to you shortly. "+
			"If it's urgent, please call us at %s.", phone)
}
