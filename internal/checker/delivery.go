package checker

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

// Strategy places a payload into a page driven by the given tab context.
// It returns once the payload has been delivered; it does not wait for a popup.
type Strategy interface {
	Mode() Mode
	Deliver(tabCtx context.Context, req *CheckRequest) error
}

// URLParamStrategy appends the payload to the target's query string and navigates there.
type URLParamStrategy struct {
	NavigationTimeout time.Duration
}

func (s *URLParamStrategy) Mode() Mode { return ModeURLParam }

func (s *URLParamStrategy) Deliver(tabCtx context.Context, req *CheckRequest) error {
	target := AppendRawParam(req.TargetURL, req.Param, req.Payload)
	if err := navigate(tabCtx, target, s.NavigationTimeout); err != nil {
		return &DeliveryError{Mode: ModeURLParam, Stage: "navigate to", URL: target, Cause: err}
	}
	return nil
}

// InputFieldStrategy loads the target, fills the search input and presses Enter.
// The payload is inserted as text input so the page's input listeners see it.
type InputFieldStrategy struct {
	NavigationTimeout time.Duration
	ElementTimeout    time.Duration
}

func (s *InputFieldStrategy) Mode() Mode { return ModeInputField }

func (s *InputFieldStrategy) Deliver(tabCtx context.Context, req *CheckRequest) error {
	if err := navigate(tabCtx, req.TargetURL, s.NavigationTimeout); err != nil {
		return &DeliveryError{Mode: ModeInputField, Stage: "navigate to", URL: req.TargetURL, Cause: err}
	}

	waitCtx, cancel := context.WithTimeout(tabCtx, s.ElementTimeout)
	defer cancel()
	if err := chromedp.Run(waitCtx, chromedp.WaitReady(req.Selector, chromedp.ByQuery)); err != nil {
		return &DeliveryError{Mode: ModeInputField, Stage: "find input " + req.Selector + " on", URL: req.TargetURL, Cause: err}
	}

	submitCtx, cancelSubmit := context.WithTimeout(tabCtx, s.ElementTimeout)
	defer cancelSubmit()
	err := chromedp.Run(submitCtx,
		chromedp.SetValue(req.Selector, "", chromedp.ByQuery),
		chromedp.Focus(req.Selector, chromedp.ByQuery),
		input.InsertText(req.Payload),
		chromedp.SendKeys(req.Selector, kb.Enter, chromedp.ByQuery),
	)
	if err != nil {
		return &DeliveryError{Mode: ModeInputField, Stage: "submit input on", URL: req.TargetURL, Cause: err}
	}
	return nil
}

func navigate(tabCtx context.Context, target string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()
	return chromedp.Run(ctx, chromedp.Navigate(target))
}
