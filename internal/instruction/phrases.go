package instruction

// PhraseKey identifies a fixed rider announcement.
type PhraseKey string

// Announcement keys.
const (
	PhraseRerouteFlexible     PhraseKey = "reroute_flexible"
	PhraseRerouteStrict       PhraseKey = "reroute_strict"
	PhraseRecalculationFailed PhraseKey = "recalculation_failed"
	PhraseAutoPaused          PhraseKey = "auto_paused"
	PhraseAutoResumed         PhraseKey = "auto_resumed"
	PhraseArrived             PhraseKey = "arrived"
)

var phrasebook = map[string]map[PhraseKey]string{
	LangPortuguese: {
		PhraseRerouteFlexible:     "Recalculando rota. Você pode voltar pela rua que veio ou continuar em frente para encontrar um retorno mais à frente",
		PhraseRerouteStrict:       "Recalculando rota. Faça um retorno assim que possível respeitando as leis de trânsito",
		PhraseRecalculationFailed: "Não foi possível recalcular a rota. Continue seguindo as instruções originais",
		PhraseAutoPaused:          "Atividade pausada por inatividade",
		PhraseAutoResumed:         "Retomando pedalada",
		PhraseArrived:             "Você chegou ao destino",
	},
	LangEnglish: {
		PhraseRerouteFlexible:     "Recalculating route. You can go back the way you came or continue ahead to find a place to turn around",
		PhraseRerouteStrict:       "Recalculating route. Make a legal U-turn as soon as possible",
		PhraseRecalculationFailed: "Could not recalculate the route. Keep following the original directions",
		PhraseAutoPaused:          "Activity paused due to inactivity",
		PhraseAutoResumed:         "Resuming ride",
		PhraseArrived:             "You have arrived at your destination",
	},
}

// Phrase returns the announcement text for key in lang. Unknown languages
// fall back to pt-BR.
func Phrase(lang string, key PhraseKey) string {
	target, err := ParseLanguage(lang)
	if err != nil {
		target = LangPortuguese
	}
	return phrasebook[target][key]
}

// IsUTurn reports whether an instruction, raw or normalized in either
// language, tells the rider to turn back.
func IsUTurn(text string) bool {
	return uturnPattern.MatchString(text)
}
