package session

import "github.com/ashita-ai/concierge/internal/model"

var greetings = map[model.Phase]string{
	model.PhaseNotStarted: "Hi! I'm your setup assistant. I'll help you get your booking page ready in a few short steps. " +
		"To start, tell me a little about your business: what do you do, and where are you based?",
	model.PhaseDiscovery: "Let's keep getting to know your business. " +
		"What kinds of clients do you usually work with, and what would you most like to improve?",
	model.PhaseMarketResearch: "Thanks, I have a good picture of your business. " +
		"Next I'll look at how similar businesses in your area price and position their services.",
	model.PhaseServices: "Let's set up the services you offer. " +
		"Tell me what you sell, roughly how long each takes, and what you charge.",
	model.PhaseMarketing: "Your services are in place. Let's talk about how clients will find you.",
	model.PhaseCompleted: "Your setup is complete. Ask me anything about your dashboard whenever you need help.",
	model.PhaseSkipped:   "You skipped the guided setup. You can ask me for help with any part of it at any time.",
}

// PhaseGreeting returns the opening line for a tenant in phase p.
func PhaseGreeting(p model.Phase) string {
	if g, ok := greetings[p]; ok {
		return g
	}
	return greetings[model.PhaseNotStarted]
}
