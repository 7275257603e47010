package models

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// EncodeInstance serializes a workflow instance for a job payload.
func EncodeInstance(wi *WorkflowInstance) (string, error) {
	data, err := json.Marshal(wi)
	if err != nil {
		return "", fmt.Errorf("failed to encode workflow instance %s: %w", wi.ID, err)
	}

	return string(data), nil
}

// DecodeInstance parses a payload written by EncodeInstance.
func DecodeInstance(payload string) (*WorkflowInstance, error) {
	var wi WorkflowInstance

	err := json.Unmarshal([]byte(payload), &wi)
	if err != nil {
		return nil, fmt.Errorf("failed to decode workflow instance: %w", err)
	}

	return &wi, nil
}

// EncodeProperties serializes resume properties. Nil and empty maps encode to "".
func EncodeProperties(properties map[string]string) (string, error) {
	if len(properties) == 0 {
		return "", nil
	}

	data, err := json.Marshal(properties)
	if err != nil {
		return "", fmt.Errorf("failed to encode properties: %w", err)
	}

	return string(data), nil
}

// DecodeProperties parses a payload written by EncodeProperties.
func DecodeProperties(payload string) (map[string]string, error) {
	if payload == "" {
		return nil, nil
	}

	var properties map[string]string

	err := json.Unmarshal([]byte(payload), &properties)
	if err != nil {
		return nil, fmt.Errorf("failed to decode properties: %w", err)
	}

	return properties, nil
}
