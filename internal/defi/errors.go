package defi

import (
	"net/http"

	xerrors "DeFiIntent-Chain/internal/errors"
)

const (
	CodeEntityExtraction     xerrors.Code = "ENTITY_EXTRACTION_FAILED"
	CodeIntentClassification xerrors.Code = "INTENT_CLASSIFICATION_FAILED"
	CodeParameterExtraction  xerrors.Code = "PARAMETER_EXTRACTION_FAILED"
	CodeCommandBuilding      xerrors.Code = "COMMAND_BUILDING_FAILED"
	CodeTurnSuperseded       xerrors.Code = "TURN_SUPERSEDED"
	CodeCatalogInvalid       xerrors.Code = "CATALOG_INVALID"
)

var (
	// ErrTurnSuperseded 表示同一会话的新一轮输入已取代当前轮次。
	ErrTurnSuperseded = xerrors.New(CodeTurnSuperseded, "turn superseded by a newer turn")
)

func init() {
	xerrors.Register(CodeEntityExtraction, xerrors.Attributes{
		Message:    "entity extraction failed",
		Severity:   xerrors.SeverityWarning,
		HTTPStatus: http.StatusUnprocessableEntity,
	})
	xerrors.Register(CodeIntentClassification, xerrors.Attributes{
		Message:    "intent classification failed",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusUnprocessableEntity,
	})
	xerrors.Register(CodeParameterExtraction, xerrors.Attributes{
		Message:    "parameter extraction failed",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusUnprocessableEntity,
	})
	xerrors.Register(CodeCommandBuilding, xerrors.Attributes{
		Message:    "command building failed",
		Severity:   xerrors.SeverityWarning,
		HTTPStatus: http.StatusInternalServerError,
	})
	xerrors.Register(CodeTurnSuperseded, xerrors.Attributes{
		Message:    "turn superseded",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusConflict,
	})
	xerrors.Register(CodeCatalogInvalid, xerrors.Attributes{
		Message:    "catalog definition invalid",
		Severity:   xerrors.SeverityCritical,
		HTTPStatus: http.StatusInternalServerError,
	})
}
