// Package corpustest provides a small fixed corpus for tests.
package corpustest

import (
	"github.com/hybridqa-core/server/internal/corpus"
)

const (
	MosquesTable       = "List_of_mosques_in_Afghanistan_0"
	FireTemplesTable   = "List_of_Zoroastrian_fire_temples_0"
	WorldCupTable      = "1998_FIFA_World_Cup_squads_3"
	HeratMosquePassage = "/wiki/Friday_Mosque_of_Herat"
	HeratCityPassage   = "/wiki/Herat"
)

// HeratYAML is a miniature HybridQA corpus around the Herat mosque question.
const HeratYAML = `
generation: test-1
tables:
  - id: List_of_mosques_in_Afghanistan_0
    title: List of mosques in Afghanistan
    header: [Name, Location, Province, Built, Notes]
    rows:
      - [Friday Mosque of Herat, Herat, Herat, "1200", Built on the site of two smaller fire temples]
      - [Blue Mosque, Mazar-i-Sharif, Balkh, "1481", Shrine of Ali]
      - [Shah-Do Shamshira Mosque, Kabul, Kabul, "1920", Two-storey mosque]
      - [Green Mosque, Balkh, Balkh, "1450", ""]
    links:
      - [[/wiki/Friday_Mosque_of_Herat], [/wiki/Herat], [], [], []]
      - [[], [], [], [], []]
      - [[], [], [], [], []]
      - [[], [], [], [], []]
  - id: List_of_Zoroastrian_fire_temples_0
    title: List of Zoroastrian fire temples
    header: [Name, Location, Country]
    rows:
      - [Atash Behram of Yazd, Yazd, Iran]
      - [Adur Gushnasp, Takht-e Soleyman, Iran]
  - id: 1998_FIFA_World_Cup_squads_3
    title: 1998 FIFA World Cup squads
    header: [No., Player, Club, Caps]
    rows:
      - ["1", José Luis Chilavert, Vélez Sarsfield, "1,020"]
      - ["2", Francisco Arce, Grêmio, "48"]
      - ["3", Celso Ayala, River Plate, n/a]
passages:
  - id: /wiki/Friday_Mosque_of_Herat
    text: The Friday Mosque of Herat was built by the Ghurid ruler Ghiyath al-Din Muhammad in 1200 on the site of two smaller Zoroastrian fire temples.
  - id: /wiki/Herat
    text: Herat is a city in western Afghanistan on the Hari River.
  - id: /wiki/Yazd
    text: Yazd is home to the Atash Behram fire temple.
    tables: [List_of_Zoroastrian_fire_temples_0]
`

// Herat returns the parsed HeratYAML corpus.
func Herat() *corpus.Repository {
	repo, err := corpus.ParseYAML([]byte(HeratYAML), "")
	if err != nil {
		panic(err)
	}
	return repo
}
