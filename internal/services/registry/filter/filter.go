// Package filter parses AIP-160 vehicle listing filters.
package filter

import (
	"fmt"
	"strings"

	"go.einride.tech/aip/filtering"
	expr "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	"github.com/louisbranch/vehicle-registry/internal/services/registry/domain"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/storage"
)

const (
	fieldOwner        = "owner"
	fieldManufacturer = "manufacturer"
	fieldModel        = "model"
)

// VehicleDeclarations returns the field declarations for vehicle filtering.
func VehicleDeclarations() (*filtering.Declarations, error) {
	return filtering.NewDeclarations(
		filtering.DeclareStandardFunctions(),
		filtering.DeclareIdent(fieldOwner, filtering.TypeString),
		filtering.DeclareIdent(fieldManufacturer, filtering.TypeString),
		filtering.DeclareIdent(fieldModel, filtering.TypeString),
	)
}

// ParseVehicleFilter parses a conjunction of equality terms such as
// `owner = "0x..." AND manufacturer = "Honda"`. An empty string matches all
// vehicles. Owner values are normalized to checksummed addresses.
func ParseVehicleFilter(filterStr string) (storage.VehicleFilter, error) {
	if strings.TrimSpace(filterStr) == "" {
		return storage.VehicleFilter{}, nil
	}

	decls, err := VehicleDeclarations()
	if err != nil {
		return storage.VehicleFilter{}, fmt.Errorf("create declarations: %w", err)
	}
	parsed, err := filtering.ParseFilterString(filterStr, decls)
	if err != nil {
		return storage.VehicleFilter{}, fmt.Errorf("parse filter: %w", err)
	}

	var out storage.VehicleFilter
	if err := collect(parsed.CheckedExpr.GetExpr(), &out); err != nil {
		return storage.VehicleFilter{}, err
	}
	return out, nil
}

func collect(e *expr.Expr, out *storage.VehicleFilter) error {
	if e == nil {
		return nil
	}
	call, ok := e.GetExprKind().(*expr.Expr_CallExpr)
	if !ok {
		return fmt.Errorf("unsupported expression type: %T", e.GetExprKind())
	}

	switch call.CallExpr.GetFunction() {
	case "_&&_", filtering.FunctionAnd:
		for _, arg := range call.CallExpr.GetArgs() {
			if err := collect(arg, out); err != nil {
				return err
			}
		}
		return nil
	case "_==_", filtering.FunctionEquals:
		return collectEquals(call.CallExpr.GetArgs(), out)
	default:
		return fmt.Errorf("unsupported function: %s", call.CallExpr.GetFunction())
	}
}

func collectEquals(args []*expr.Expr, out *storage.VehicleFilter) error {
	if len(args) != 2 {
		return fmt.Errorf("comparison requires 2 arguments")
	}
	ident, ok := args[0].GetExprKind().(*expr.Expr_IdentExpr)
	if !ok {
		return fmt.Errorf("expected identifier, got %T", args[0].GetExprKind())
	}
	constant, ok := args[1].GetExprKind().(*expr.Expr_ConstExpr)
	if !ok {
		return fmt.Errorf("expected constant, got %T", args[1].GetExprKind())
	}
	value, ok := constant.ConstExpr.GetConstantKind().(*expr.Constant_StringValue)
	if !ok {
		return fmt.Errorf("expected string constant for %s", ident.IdentExpr.GetName())
	}

	field := ident.IdentExpr.GetName()
	switch field {
	case fieldOwner:
		owner, err := domain.ParseAddress(value.StringValue)
		if err != nil {
			return fmt.Errorf("owner: %w", err)
		}
		return assign(field, (*string)(&out.Owner), owner.String())
	case fieldManufacturer:
		return assign(field, &out.Manufacturer, value.StringValue)
	case fieldModel:
		return assign(field, &out.Model, value.StringValue)
	default:
		return fmt.Errorf("unknown field: %s", field)
	}
}

// assign sets *dst, rejecting a second, different value for the same field.
func assign(field string, dst *string, value string) error {
	if value == "" {
		return fmt.Errorf("%s must not be empty", field)
	}
	if *dst != "" && *dst != value {
		return fmt.Errorf("conflicting values for %s", field)
	}
	*dst = value
	return nil
}
