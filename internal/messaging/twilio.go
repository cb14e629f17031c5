package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"callbridge/internal/config"
)

const twilioBaseURL = "https://api.twilio.com"

// TwilioSMS sends text messages through the Twilio Messages API.
type TwilioSMS struct {
	cfg     config.SMSConfig
	baseURL string
	httpc   *http.Client
}

func NewTwilioSMS(cfg config.SMSConfig) *TwilioSMS {
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &TwilioSMS{
		cfg:     cfg,
		baseURL: twilioBaseURL,
		httpc:   &http.Client{Timeout: timeout},
	}
}

func (t *TwilioSMS) Name() string { return "sms" }

func (t *TwilioSMS) Send(ctx context.Context, msg Message) error {
	form := url.Values{}
	form.Set("To", msg.To)
	form.Set("From", t.cfg.FromNumber)
	form.Set("Body", msg.Body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.baseURL, t.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailure, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)

	resp, err := t.httpc.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrSendFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
		return fmt.Errorf("%w: twilio %d (code %d): %s", ErrSendFailure, resp.StatusCode, apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("%w: twilio returned %d", ErrSendFailure, resp.StatusCode)
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
