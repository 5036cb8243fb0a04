package device

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const dmiRoot = "/sys/class/dmi/id"

// ErrUnknownModel is returned when no model name can be found.
var ErrUnknownModel = errors.New("device model unknown")

// Firmware placeholders that say nothing about the machine.
var placeholders = map[string]bool{
	"to be filled by o.e.m.": true,
	"system product name":    true,
	"system manufacturer":    true,
	"default string":         true,
	"not specified":          true,
	"none":                   true,
}

// DMIInfo reads the product name and vendor from SMBIOS. Configured values win.
type DMIInfo struct {
	Root  string
	Model string
	Brand string
}

func (d DMIInfo) Describe(context.Context) (string, string, error) {
	root := d.Root
	if root == "" {
		root = dmiRoot
	}

	model := clean(d.Model)
	if model == "" {
		model = clean(readDMI(root, "product_name"))
	}
	brand := clean(d.Brand)
	if brand == "" {
		brand = clean(readDMI(root, "sys_vendor"))
		if len(brand) > 2 && brand == strings.ToUpper(brand) {
			brand = cases.Title(language.Und).String(strings.ToLower(brand))
		}
	}

	if model == "" {
		return "", brand, ErrUnknownModel
	}
	return model, brand, nil
}

func readDMI(root, name string) string {
	raw, err := os.ReadFile(filepath.Join(root, name))
	if err != nil {
		return ""
	}
	return string(raw)
}

func clean(value string) string {
	value = strings.TrimSpace(value)
	if placeholders[strings.ToLower(value)] {
		return ""
	}
	return value
}
