package sim

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mqy/pawchat/partner"
)

const fallbackReply = "Thanks for your message! I'll get back to you shortly."

// Corpus holds canned replies per partner domain.
type Corpus map[partner.Domain][]string

// DefaultCorpus returns the built-in replies.
func DefaultCorpus() Corpus {
	return Corpus{
		partner.Vet: {
			"Thanks for reaching out. How is your pet doing today?",
			"Could you tell me when the symptoms started?",
			"Please bring the vaccination records to the appointment.",
			"I have a slot free tomorrow morning if that works for you.",
		},
		partner.Trainer: {
			"Great question! Consistency is the key with recall training.",
			"Let's book a session this week and work on leash manners.",
			"Keep the sessions short, five to ten minutes is plenty.",
			"Reward the calm behaviour as soon as you see it.",
		},
		partner.Shop: {
			"Thanks for your interest! The item is in stock.",
			"We can deliver within two business days.",
			"Let me check the sizes we have available.",
			"We're open until 7pm today if you'd like to drop by.",
		},
		partner.LostFound: {
			"Thank you so much for getting in touch!",
			"Could you send a photo so I can be sure it's the same pet?",
			"Where exactly did you see them?",
			"I'm on my way, please keep an eye out if you can.",
		},
		partner.PetSocial: {
			"Woof! Thanks for saying hi!",
			"We'd love a playdate at the park this weekend.",
			"Your pup is adorable!",
			"Let's meet at the dog park on Saturday?",
		},
	}
}

// LoadCorpus reads a YAML map from domain tag to replies. Domains the file
// does not name keep their built-in replies.
func LoadCorpus(path string) (Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read replies file: %w", err)
	}
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse replies file %s: %w", path, err)
	}

	c := DefaultCorpus()
	for tag, replies := range raw {
		d, err := partner.ParseDomain(tag)
		if err != nil {
			return nil, fmt.Errorf("replies file %s: %w", path, err)
		}
		if len(replies) == 0 {
			continue
		}
		c[d] = replies
	}
	return c, nil
}

// Pick selects a reply for d uniformly at random.
func (c Corpus) Pick(d partner.Domain, intn func(int) int) string {
	replies := c[d]
	if len(replies) == 0 {
		return fallbackReply
	}
	return replies[intn(len(replies))]
}
