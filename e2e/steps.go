package e2e

import (
	"github.com/cucumber/godog"

	"github.com/tsaxking/uuid-microservice/e2e/steps/reserve"
)

// RegisterSteps registers all step definitions from modular packages.
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	reserve.RegisterSteps(ctx, tc)
}
