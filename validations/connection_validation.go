package validations

import (
	"context"
	"regexp"

	"github.com/AzielCF/az-connect/connection/domain"
	pkgError "github.com/AzielCF/az-connect/pkg/error"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

var (
	instanceNameRule = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)
	phoneRule        = regexp.MustCompile(`^\+?[0-9]{6,20}$`)
)

func ValidateCreateConnection(ctx context.Context, request domain.CreateRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.InstanceName,
			validation.Required,
			validation.Length(3, 64),
			validation.Match(instanceNameRule).Error("must contain only letters, digits, '-' or '_'"),
		),
		validation.Field(&request.HistoryRecovery,
			validation.In(domain.HistoryNone, domain.HistoryWeek, domain.HistoryMonth, domain.HistoryQuarter),
		),
	)
	if err != nil {
		return pkgError.InvalidArgumentError(err.Error())
	}
	return nil
}

func ValidateOutboundMessage(ctx context.Context, request domain.OutboundMessage) error {
	isMedia := request.MessageType != "" && request.MessageType != domain.MessageText

	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.InstanceName, validation.Required),
		validation.Field(&request.PhoneNumber, validation.Required, validation.Match(phoneRule)),
		validation.Field(&request.MessageType,
			validation.In(domain.MessageText, domain.MessageImage, domain.MessageVideo, domain.MessageAudio, domain.MessageDocument),
		),
		validation.Field(&request.Content, validation.When(!isMedia, validation.Required)),
		validation.Field(&request.MediaURL, validation.When(isMedia, validation.Required, is.URL)),
	)
	if err != nil {
		return pkgError.ValidationError(err.Error())
	}
	return nil
}

func ValidateAutomation(ctx context.Context, request domain.AutomationRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.URL, is.RequestURL),
		validation.Field(&request.Secret, validation.When(request.URL == "", validation.Empty.Error("requires url"))),
	)
	if err != nil {
		return pkgError.ValidationError(err.Error())
	}
	return nil
}
