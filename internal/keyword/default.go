// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package keyword

import "sentinel-scan/internal/detector"

// DefaultVersion is the version of the built-in dictionary
const DefaultVersion = "builtin-2024.2"

var defaultSpecs = map[string]CategorySpec{
	"THREAT": {Terms: map[detector.Tier][]string{
		detector.TierHigh: {
			"you will regret", "i will destroy", "watch yourself", "or else",
			"won't get away", "make your life", "you have no idea what", "i will make sure",
		},
		detector.TierMedium: {
			"i'll take the kids", "ill take the kids", "take everything", "you will lose",
			"i will take", "see what happens", "expose you", "tell everyone", "you better",
			"restraining order",
		},
		detector.TierLow: {
			"lawyer", "sue you", "court", "call the police", "report you",
		},
	}},
	"INSULT": {Terms: map[detector.Tier][]string{
		detector.TierHigh: {
			"worthless", "hate you", "disgusting", "you are the problem", "piece of work", "waste of",
		},
		detector.TierMedium: {
			"stupid", "idiot", "pathetic", "loser", "moron", "useless", "garbage", "trash",
			"incompetent", "embarrassment", "ugly", "failure",
		},
		detector.TierLow: {
			"dumb", "ignorant", "shut up", "you never", "you always", "typical you", "joke",
		},
	}},
	"MANIPULATION": {Terms: map[detector.Tier][]string{
		detector.TierHigh: {
			"no one will believe", "no one believes you", "you made me do", "look what you made",
			"that never happened", "you imagined", "nobody else would", "you are crazy", "you are insane",
		},
		detector.TierMedium: {
			"if you loved me", "you owe me", "this is your fault", "you ruined", "because of you",
			"stop playing victim", "did not happen", "you are overreacting", "after everything i",
			"i gave up everything",
		},
		detector.TierLow: {
			"you never care", "only think of yourself", "you always do this", "how could you",
			"you should feel", "so sensitive", "too emotional",
		},
	}},
	"CUSTODY": {Terms: map[detector.Tier][]string{
		detector.TierHigh: {
			"custody hearing", "contempt", "supervised visit", "physical custody", "legal custody",
			"court order", "guardian ad litem", "modification",
		},
		detector.TierMedium: {
			"custody", "visitation", "parenting time", "child support", "parenting plan",
			"mediation", "mediator", "judge", "attorney", "primary residence", "unsupervised", "guardian",
		},
		detector.TierLow: {
			"the kids", "our kids", "my kids", "the children", "our children", "pickup", "pick up",
			"pick-up", "drop off", "drop-off", "school", "daycare", "holiday",
		},
	}},
	"POSITIVE": {Supportive: true, Terms: map[detector.Tier][]string{
		detector.TierHigh: {
			"i love you", "proud of you", "i believe you", "here for you", "so grateful",
		},
		detector.TierMedium: {
			"love you", "i appreciate", "i'm sorry", "im sorry", "i miss you", "thinking of you",
			"you are amazing", "you are great", "you are doing great", "you matter",
		},
		detector.TierLow: {
			"thank you", "i care", "well done", "good job", "i support", "i understand",
		},
	}},
}

// DefaultDictionary returns the built-in dictionary
func DefaultDictionary() *Dictionary {
	d, err := NewDictionary(DefaultVersion, defaultSpecs)
	if err != nil {
		panic("keyword: invalid built-in dictionary: " + err.Error())
	}
	return d
}
