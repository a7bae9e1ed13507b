package main

import (
	"strings"

	"github.com/arloliu/go-astm/e1381"
)

// DemoSpecimenID is the specimen ID in the demo result.
const DemoSpecimenID = "5928D"

// demoResult is an HBV viral load result as reported by a GeneXpert analyzer.
var demoResult = []string{
	`H|@^\|GXM-17315433330||SN 846682 Labo test^GeneXpert^6.2|||||GX_01||P|1394-97|20250809160651`,
	`P|1|||CQE UK NEQAS 20-11-2025|^^^^|||||||||||||||||||||||||||||`,
	`O|1|5928D||^^^hbv_test|R|20251120105041|||||||||ORH||||||||||F`,
	`R|1|^^^hbv_test^Xpert HBV Viral Load^1^^|^3078.31|IU/mL|10.00 to...114709|Cepheid-1F23904^846682^913994^940366684^19902^20260111|`,
	`R|2|^^^hbv_test^Xpert HBV Viral Load^1^^LOG|^3.49|IU/mL|1.00 to ...114709|Cepheid-1F23904^846682^913994^940366684^19902^20260111|`,
	`R|3|^^^hbv_test^^^HBV^|POS^|||`,
	`R|4|^^^hbv_test^^^HBV^Ct|^27.9|||`,
	`R|5|^^^hbv_test^^^HBV^EndPt|^568.0|||`,
	`R|6|^^^hbv_test^^^HBV^Delta Ct|^-2.8|||`,
	`R|7|^^^hbv_test^^^IQS-H^|PASS^|||`,
	`R|8|^^^hbv_test^^^IQS-H^Ct|^20.3|||`,
	`R|9|^^^hbv_test^^^IQS-H^EndPt|^285.0|||`,
	`R|10|^^^hbv_test^^^IQS-L^|PASS^|||`,
	`R|11|^^^hbv_test^^^IQS-L^Ct|^30.8|||`,
	`R|12|^^^hbv_test^^^IQS-L^EndPt|^457.0|||`,
	`L|1|N`,
}

// DemoResult returns the demo result with every occurrence of the demo
// specimen ID replaced by specimen.
func DemoResult(specimen string) e1381.Message {
	records := make([]string, len(demoResult))
	for i, rec := range demoResult {
		records[i] = strings.ReplaceAll(rec, DemoSpecimenID, specimen)
	}

	return e1381.NewMessage(records...)
}
