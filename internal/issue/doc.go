// SPDX-License-Identifier: MPL-2.0

// Package issue turns failures into operator guidance: ActionableError adds
// operation, resource and suggestions to an error, and the catalog holds
// longer Markdown explanations rendered with glamour.
package issue
