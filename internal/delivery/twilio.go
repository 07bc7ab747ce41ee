package delivery

import (
	"context"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/hubwire/comms-core/internal/pkg/logger"
)

// TwilioSender delivers sms/whatsapp via the Twilio messaging API and voice
// via a text-to-speech call. Every attempt is bounded by the configured
// timeout.
type TwilioSender struct {
	client         *twilio.RestClient
	fromNumber     string
	whatsappNumber string
	timeout        time.Duration
}

// NewTwilioSender creates a Twilio-backed sender.
func NewTwilioSender(accountSID, authToken, fromNumber, whatsappNumber string, timeout time.Duration) *TwilioSender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TwilioSender{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSID,
			Password: authToken,
		}),
		fromNumber:     fromNumber,
		whatsappNumber: whatsappNumber,
		timeout:        timeout,
	}
}

// Send delivers one message. The Twilio SDK does not take a context, so the
// call runs in a goroutine and the sender gives up (reporting failure) when
// the deadline passes; an abandoned call cannot block a sweep.
func (s *TwilioSender) Send(ctx context.Context, msg Message) Result {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		done <- s.dispatch(msg)
	}()

	select {
	case res := <-done:
		if !res.Success {
			logger.Warn("delivery failed",
				"contact_id", msg.ContactID.String(), "channel", string(msg.Channel), "error", res.Error)
		}
		return res
	case <-ctx.Done():
		logger.Warn("delivery timed out",
			"contact_id", msg.ContactID.String(), "channel", string(msg.Channel), "to_phone", msg.To)
		return Result{Success: false, Error: "delivery timeout: " + ctx.Err().Error()}
	}
}

func (s *TwilioSender) dispatch(msg Message) Result {
	switch msg.Channel {
	case ChannelVoice:
		return s.placeCall(msg.To, msg.Body)
	case ChannelWhatsApp:
		return s.sendMessage("whatsapp:"+msg.To, "whatsapp:"+s.whatsappNumber, msg.Body)
	default:
		return s.sendMessage(msg.To, s.fromNumber, msg.Body)
	}
}

func (s *TwilioSender) sendMessage(to, from, body string) Result {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetBody(body)

	resp, err := s.client.Api.CreateMessage(params)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	res := Result{Success: true}
	if resp.Sid != nil {
		res.ProviderID = *resp.Sid
	}
	return res
}

func (s *TwilioSender) placeCall(to, body string) Result {
	params := &twilioApi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(s.fromNumber)
	params.SetTwiml("<Response><Say>" + xmlEscape(body) + "</Say></Response>")

	resp, err := s.client.Api.CreateCall(params)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	res := Result{Success: true}
	if resp.Sid != nil {
		res.ProviderID = *resp.Sid
	}
	return res
}

var twimlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func xmlEscape(s string) string {
	return twimlEscaper.Replace(s)
}
