// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validators for identifiers that are
// later used to build filesystem paths, preventing path traversal through
// a crafted execution ID, variable name, or content address.
package validation

import (
	"fmt"
	"regexp"
)

var (
	execIDPattern   = regexp.MustCompile(`^execution-[0-9]{8}T[0-9]{6}-[0-9a-f]{8}$`)
	varNamePattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]{0,127}$`)
	contentAddrHex  = regexp.MustCompile(`^[0-9a-f]{64}$`)
	pathSegmentSafe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)
)

// ValidateExecutionID validates the execution-YYYYMMDDThhmmss-XXXXXXXX
// format produced by package ids.
func ValidateExecutionID(id string) error {
	if !execIDPattern.MatchString(id) {
		return fmt.Errorf("invalid execution id %q", id)
	}
	return nil
}

// ValidateVariableName validates a namespace variable name before it is
// used as an object key.
func ValidateVariableName(name string) error {
	if !varNamePattern.MatchString(name) {
		return fmt.Errorf("invalid variable name %q", name)
	}
	return nil
}

// ValidatePathSegment validates a caller-supplied identifier that will
// become a single directory name, such as a custom execution ID. It admits
// a superset of the generated-ID format but never a separator, a leading
// dot, or an empty string.
func ValidatePathSegment(name string) error {
	if !pathSegmentSafe.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

// ValidateContentAddress validates a checkpoint ID: a 64-character lowercase
// hex SHA-256 digest, nothing else. This is the only string the checkpoint
// store ever joins onto its root directory, so this check is what actually
// rules out path traversal there.
func ValidateContentAddress(id string) error {
	if !contentAddrHex.MatchString(id) {
		return fmt.Errorf("invalid checkpoint id %q", id)
	}
	return nil
}
