package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"fbharvest-backend/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/codes"
)

// Terminal outcomes of the login state machine. ErrTwoFactorRequired is
// not really a failure: the caller is expected to follow up with
// SubmitOtp on the same client.
var (
	ErrAlreadyLoggedIn     = fmt.Errorf("an account is already logged in on this session")
	ErrInvalidCredentials  = fmt.Errorf("the account rejected these credentials")
	ErrTwoFactorRequired   = fmt.Errorf("a one-time code is required to finish logging in")
	ErrCheckpointLocked    = fmt.Errorf("the account hit a checkpoint with no code prompt, it may be locked")
	ErrWrongOtp            = fmt.Errorf("the one-time code was rejected")
	ErrLoginReviewRequired = fmt.Errorf("the login is pending manual review on another device")
)

// VerifyLogin probes whether the session already belongs to a logged-in
// account: the root page of the low-markup host renders a login input
// only for anonymous viewers.
func (c *Client) VerifyLogin(ctx context.Context) (bool, error) {
	ctx, span := tracer.Start(ctx, "client:VerifyLogin")
	defer span.End()

	doc, _, err := c.GetDoc(ctx, c.BasicURL.String())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch root page")
		return false, err
	}
	return doc.Find("input[name='login']").Length() == 0, nil
}

func (c *Client) checkpointUrl(landing string) bool {
	return strings.HasPrefix(landing, htmlutil.ResolveURL(c.BasicURL, "/checkpoint/")) ||
		strings.HasPrefix(landing, htmlutil.ResolveURL(c.BasicURL, "/login/checkpoint/"))
}

// Login walks the credential form flow:
//
//	LoggedOut -> FormSubmitted -> LoggedIn
//	                           -> Checkpoint2FA      (ErrTwoFactorRequired, call SubmitOtp)
//	                           -> CheckpointLocked   (ErrCheckpointLocked)
//	                           -> SaveDevicePrompt   (auto-confirmed) -> LoggedIn
//
// Hidden inputs are carried over verbatim, they include the anti-forgery
// tokens the server validates.
func (c *Client) Login(ctx context.Context, email, password string) error {
	ctx, span := tracer.Start(ctx, "client:Login")
	defer span.End()

	loggedIn, err := c.VerifyLogin(ctx)
	if err != nil {
		return err
	}
	if loggedIn {
		span.SetStatus(codes.Ok, "already logged in")
		return ErrAlreadyLoggedIn
	}

	doc, _, err := c.GetDoc(ctx, c.BasicURL.String())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch login page")
		return err
	}

	form := doc.Find("form#login_form").First()
	if form.Length() == 0 {
		span.SetStatus(codes.Error, "login form missing")
		return fmt.Errorf("login form: %w", ErrMalformedPage)
	}
	action, ok := form.Attr("action")
	if !ok {
		span.SetStatus(codes.Error, "login form has no action")
		return fmt.Errorf("login form action: %w", ErrMalformedPage)
	}

	fields := htmlutil.FormValues(form.Find("input[type='hidden'][name]"))
	submits := htmlutil.FormValues(form.Find("input[type='submit'][name='login']"))
	if len(fields) == 0 || len(submits) == 0 {
		span.SetStatus(codes.Error, "login form inputs missing")
		return fmt.Errorf("login form inputs: %w", ErrMalformedPage)
	}
	mergeValues(fields, submits)
	fields.Set("email", email)
	fields.Set("pass", password)

	doc, res, err := c.PostForm(ctx, htmlutil.ResolveURL(c.BasicURL, action), fields)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to submit login form")
		return err
	}
	landing := LandingURL(res)

	if c.checkpointUrl(landing) {
		// checkpoint can mean 2FA or a locked account, the code input
		// is what tells them apart
		if doc.Find("input#approvals_code").Length() == 0 {
			span.SetStatus(codes.Error, ErrCheckpointLocked.Error())
			return ErrCheckpointLocked
		}
		span.SetStatus(codes.Ok, "two factor checkpoint")
		return ErrTwoFactorRequired
	}

	if strings.HasPrefix(landing, htmlutil.ResolveURL(c.BasicURL, "/login/save-device/")) {
		c.confirmSaveDevice(ctx, doc, nil)
		return nil
	}

	if doc.Find("form#login_form").Length() > 0 {
		span.SetStatus(codes.Error, ErrInvalidCredentials.Error())
		return ErrInvalidCredentials
	}

	return nil
}

// best-effort "remember this device" click-through; a failure here does
// not invalidate the session that was just established
func (c *Client) confirmSaveDevice(ctx context.Context, doc *goquery.Document, extra url.Values) {
	form := doc.Find("form").First()
	if form.Length() == 0 {
		return
	}
	action, ok := form.Attr("action")
	if !ok {
		return
	}
	fields := htmlutil.FormValues(form.ChildrenFiltered("input[name]"))
	mergeValues(fields, extra)
	_, _, err := c.PostForm(ctx, htmlutil.ResolveURL(c.BasicURL, action), fields)
	if err != nil {
		slog.WarnContext(ctx, "save-device confirmation failed", "err", err)
	}
}

// SubmitOtp finishes a two-factor checkpoint with a one-time code. Only
// meaningful after Login returned ErrTwoFactorRequired. The checkpoint
// form scatters required fields across disjoint regions of the page, all
// of them have to be harvested or the submission bounces.
func (c *Client) SubmitOtp(ctx context.Context, code string) error {
	ctx, span := tracer.Start(ctx, "client:SubmitOtp")
	defer span.End()

	loggedIn, err := c.VerifyLogin(ctx)
	if err != nil {
		return err
	}
	if loggedIn {
		span.SetStatus(codes.Ok, "already logged in, no code needed")
		return ErrAlreadyLoggedIn
	}

	doc, _, err := c.GetDoc(ctx, htmlutil.ResolveURL(c.BasicURL, "/checkpoint/"))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch checkpoint page")
		return err
	}

	form := doc.Find("form[action*='/login/checkpoint/']").First()
	if form.Length() == 0 {
		span.SetStatus(codes.Error, "checkpoint form missing")
		return fmt.Errorf("checkpoint form: %w", ErrMalformedPage)
	}
	action := form.AttrOr("action", "")

	fields, err := checkpointFields(form, true)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	fields.Set("approvals_code", code)

	doc, res, err := c.PostForm(ctx, htmlutil.ResolveURL(c.BasicURL, action), fields)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to submit one-time code")
		return err
	}

	if doc.Find("input#approvals_code").Length() > 0 {
		span.SetStatus(codes.Error, ErrWrongOtp.Error())
		return ErrWrongOtp
	}

	if strings.HasPrefix(LandingURL(res), htmlutil.ResolveURL(c.BasicURL, "/login/checkpoint/")) {
		// a second checkpoint follows: the save-device prompt; it has to
		// be answered or the login never completes
		form = doc.Find("form[action*='/login/checkpoint/']").First()
		if form.Length() == 0 {
			span.SetStatus(codes.Error, "save-device form missing")
			return fmt.Errorf("save-device form: %w", ErrMalformedPage)
		}
		action = form.AttrOr("action", "")

		fields, err = checkpointFields(form, false)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		fields.Set("name_action_selected", "save_device")

		doc, _, err = c.PostForm(ctx, htmlutil.ResolveURL(c.BasicURL, action), fields)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to answer save-device prompt")
			return err
		}
		if doc.Find("#checkpointSubmitButton").Length() > 0 {
			// the session's client identity rotates per generation, so a
			// pending approval on another device can never be legitimate
			span.SetStatus(codes.Error, ErrLoginReviewRequired.Error())
			return ErrLoginReviewRequired
		}
	}

	return nil
}

// checkpointFields unions the checkpoint form's field regions: top-level
// inputs, the code section's sibling inputs (when withCodeSection is
// set), and the submit-button section's inputs.
func checkpointFields(form *goquery.Selection, withCodeSection bool) (url.Values, error) {
	fields := htmlutil.FormValues(form.ChildrenFiltered("input[name]"))
	if len(fields) == 0 {
		return nil, fmt.Errorf("checkpoint top-level inputs: %w", ErrMalformedPage)
	}

	if withCodeSection {
		section := form.Find("article section input[name]").Not("[type='text']")
		if section.Length() == 0 {
			return nil, fmt.Errorf("checkpoint code section inputs: %w", ErrMalformedPage)
		}
		mergeValues(fields, htmlutil.FormValues(section))
	}

	submitSection := form.Find("article > div:first-of-type input[name]")
	if submitSection.Length() == 0 {
		return nil, fmt.Errorf("checkpoint submit section inputs: %w", ErrMalformedPage)
	}
	mergeValues(fields, htmlutil.FormValues(submitSection))

	return fields, nil
}

func mergeValues(dst, src url.Values) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Set(k, v)
		}
	}
}
