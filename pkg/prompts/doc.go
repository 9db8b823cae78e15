// Package prompts renders the prompts sent to the model.
package prompts
