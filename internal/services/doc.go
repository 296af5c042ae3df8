// Package services holds the shared error taxonomy used to classify
// failures from external collaborators and internal components.
package services
